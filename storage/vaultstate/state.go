// Package vaultstate persists vault ledger records and the aggregate in a
// key/value database using RLP encoding.
package vaultstate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"autocompounder/crypto"
	"autocompounder/native/vault"
	"autocompounder/storage"
)

const (
	recordKeyFormat = "vault/records/%s"
	indexKey        = "vault/records/index"
	aggregateKey    = "vault/aggregate"
)

// Store implements vault.Store on top of a storage.Database.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

var _ vault.Store = (*Store)(nil)

// New constructs a store over db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

type storedRecord struct {
	Address          []byte
	PrincipalStable  []byte
	PrincipalLP      []byte
	CompoundedStable []byte
	CompoundedLP     []byte
}

type storedAggregate struct {
	TotalStakedLP         []byte
	TotalPrincipalStable  []byte
	TotalCompoundedStable []byte
	TotalCompoundedLP     []byte
	Cycles                uint64
	CarryReward           []byte
	CarryStable           []byte
	CarryLP               []byte
	CarryLPStable         []byte
}

// PutRecord writes record and registers its address in the index.
func (s *Store) PutRecord(record *vault.DepositRecord) error {
	if record == nil {
		return errors.New("vaultstate: nil record")
	}
	addr := record.Address.Bytes()
	if len(addr) == 0 {
		return errors.New("vaultstate: record without address")
	}
	encoded, err := rlp.EncodeToBytes(storedRecord{
		Address:          append([]byte(nil), addr...),
		PrincipalStable:  amountBytes(record.PrincipalStable),
		PrincipalLP:      amountBytes(record.PrincipalLP),
		CompoundedStable: amountBytes(record.CompoundedStable),
		CompoundedLP:     amountBytes(record.CompoundedLP),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(recordKey(addr), encoded); err != nil {
		return err
	}
	return s.ensureIndexEntry(addr)
}

// LoadRecords returns every indexed record in index order.
func (s *Store) LoadRecords() ([]*vault.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*vault.DepositRecord, 0, len(index))
	for _, addr := range index {
		data, err := s.db.Get(recordKey(addr))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var stored storedRecord
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return nil, fmt.Errorf("vaultstate: decode record %x: %w", addr, err)
		}
		if len(stored.Address) != 20 {
			return nil, fmt.Errorf("vaultstate: record %x has malformed address", addr)
		}
		out = append(out, &vault.DepositRecord{
			Address:          crypto.NewAddress(crypto.AccountPrefix, stored.Address),
			PrincipalStable:  amountFromBytes(stored.PrincipalStable),
			PrincipalLP:      amountFromBytes(stored.PrincipalLP),
			CompoundedStable: amountFromBytes(stored.CompoundedStable),
			CompoundedLP:     amountFromBytes(stored.CompoundedLP),
		})
	}
	return out, nil
}

// PutAggregate replaces the persisted aggregate.
func (s *Store) PutAggregate(agg vault.Aggregate) error {
	encoded, err := rlp.EncodeToBytes(storedAggregate{
		TotalStakedLP:         amountBytes(agg.TotalStakedLP),
		TotalPrincipalStable:  amountBytes(agg.TotalPrincipalStable),
		TotalCompoundedStable: amountBytes(agg.TotalCompoundedStable),
		TotalCompoundedLP:     amountBytes(agg.TotalCompoundedLP),
		Cycles:                agg.Cycles,
		CarryReward:           amountBytes(agg.Carry.Reward),
		CarryStable:           amountBytes(agg.Carry.Stable),
		CarryLP:               amountBytes(agg.Carry.LP),
		CarryLPStable:         amountBytes(agg.Carry.LPStable),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put([]byte(aggregateKey), encoded)
}

// LoadAggregate returns the persisted aggregate and whether one was found.
func (s *Store) LoadAggregate() (vault.Aggregate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.db.Get([]byte(aggregateKey))
	if errors.Is(err, storage.ErrNotFound) {
		return vault.Aggregate{}, false, nil
	}
	if err != nil {
		return vault.Aggregate{}, false, err
	}
	var stored storedAggregate
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return vault.Aggregate{}, false, fmt.Errorf("vaultstate: decode aggregate: %w", err)
	}
	return vault.Aggregate{
		TotalStakedLP:         amountFromBytes(stored.TotalStakedLP),
		TotalPrincipalStable:  amountFromBytes(stored.TotalPrincipalStable),
		TotalCompoundedStable: amountFromBytes(stored.TotalCompoundedStable),
		TotalCompoundedLP:     amountFromBytes(stored.TotalCompoundedLP),
		Cycles:                stored.Cycles,
		Carry: vault.Carry{
			Reward:   amountFromBytes(stored.CarryReward),
			Stable:   amountFromBytes(stored.CarryStable),
			LP:       amountFromBytes(stored.CarryLP),
			LPStable: amountFromBytes(stored.CarryLPStable),
		},
	}, true, nil
}

func (s *Store) ensureIndexEntry(addr []byte) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	needle := hex.EncodeToString(addr)
	for _, existing := range index {
		if hex.EncodeToString(existing) == needle {
			return nil
		}
	}
	index = append(index, append([]byte(nil), addr...))
	encoded, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(indexKey), encoded)
}

func (s *Store) loadIndex() ([][]byte, error) {
	data, err := s.db.Get([]byte(indexKey))
	if errors.Is(err, storage.ErrNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("vaultstate: decode index: %w", err)
	}
	return raw, nil
}

func recordKey(addr []byte) []byte {
	return []byte(fmt.Sprintf(recordKeyFormat, hex.EncodeToString(addr)))
}

func amountBytes(v *big.Int) []byte {
	if v == nil || v.Sign() <= 0 {
		return nil
	}
	return v.Bytes()
}

func amountFromBytes(b []byte) *big.Int {
	if len(b) == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(b)
}
