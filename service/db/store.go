package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when an identity has no allocation.
	ErrNotFound = errors.New("claim not found")
	// ErrDuplicateIdentity is returned when a tree lists the same identity twice.
	ErrDuplicateIdentity = errors.New("duplicate identity")
)

// Schema creates the claims table. Proofs are stored as arrays of 20-byte hashes.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
	ecosystem          TEXT        NOT NULL,
	identity           TEXT        NOT NULL,
	amount             BIGINT      NOT NULL CHECK (amount >= 0),
	proof_of_inclusion BYTEA[]     NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (ecosystem, identity)
)`

// Store provides read access to the published claim tree.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Allocation is one claim tree entry.
type Allocation struct {
	Info      claim.ClaimInfo
	Proof     claim.Proof
	CreatedAt time.Time
}

// EnsureSchema creates the claims table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetAmountAndProof returns the allocation for an identity in an ecosystem.
func (s *Store) GetAmountAndProof(ctx context.Context, eco claim.Ecosystem, identity string) (*Allocation, error) {
	var (
		amount    int64
		rawProof  [][]byte
		createdAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT amount, proof_of_inclusion, created_at FROM claims WHERE ecosystem = $1 AND identity = $2`,
		eco.String(), identity,
	).Scan(&amount, &rawProof, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query claim: %w", err)
	}

	proof, err := proofFromBytes(rawProof)
	if err != nil {
		return nil, fmt.Errorf("corrupt proof for %s/%s: %w", eco, identity, err)
	}
	return &Allocation{
		Info:      claim.ClaimInfo{Ecosystem: eco, Identity: identity, Amount: uint64(amount)},
		Proof:     proof,
		CreatedAt: createdAt.Time,
	}, nil
}

// UpsertClaims writes a batch of allocations in one transaction.
func (s *Store) UpsertClaims(ctx context.Context, allocations []Allocation) error {
	return s.writeClaims(ctx, allocations, false)
}

// ReplaceClaims swaps the stored tree for allocations in one transaction.
// Identities missing from allocations are removed.
func (s *Store) ReplaceClaims(ctx context.Context, allocations []Allocation) error {
	return s.writeClaims(ctx, allocations, true)
}

func (s *Store) writeClaims(ctx context.Context, allocations []Allocation, replace bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if replace {
		if _, err := tx.Exec(ctx, `DELETE FROM claims`); err != nil {
			return fmt.Errorf("failed to clear claims: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, a := range allocations {
		if a.Info.Amount > math.MaxInt64 {
			return fmt.Errorf("amount for %s/%s overflows BIGINT", a.Info.Ecosystem, a.Info.Identity)
		}
		batch.Queue(`
			INSERT INTO claims (ecosystem, identity, amount, proof_of_inclusion)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (ecosystem, identity)
			DO UPDATE SET amount = EXCLUDED.amount, proof_of_inclusion = EXCLUDED.proof_of_inclusion`,
			a.Info.Ecosystem.String(), a.Info.Identity, int64(a.Info.Amount), proofToBytes(a.Proof),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert claims: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit claims: %w", err)
	}
	return nil
}

// ImportTree builds the claim tree over infos, replaces the stored tree with
// its allocations and returns the root. Each (ecosystem, identity) may appear
// only once, since a row holds a single proof.
func (s *Store) ImportTree(ctx context.Context, infos []claim.ClaimInfo) (claim.Hash, error) {
	if err := checkUnique(infos); err != nil {
		return claim.Hash{}, err
	}
	tree, err := claim.NewTree(infos)
	if err != nil {
		return claim.Hash{}, err
	}
	allocations := make([]Allocation, len(infos))
	for i, info := range infos {
		proof, err := tree.Proof(i)
		if err != nil {
			return claim.Hash{}, err
		}
		allocations[i] = Allocation{Info: info, Proof: proof}
	}
	if err := s.ReplaceClaims(ctx, allocations); err != nil {
		return claim.Hash{}, err
	}
	return tree.Root(), nil
}

func checkUnique(infos []claim.ClaimInfo) error {
	type key struct {
		eco      claim.Ecosystem
		identity string
	}
	seen := make(map[key]int, len(infos))
	for i, info := range infos {
		k := key{info.Ecosystem, info.Identity}
		if j, ok := seen[k]; ok {
			return fmt.Errorf("%w: %s/%s at entries %d and %d", ErrDuplicateIdentity, info.Ecosystem, info.Identity, j, i)
		}
		seen[k] = i
	}
	return nil
}

// CountClaims returns the number of stored allocations.
func (s *Store) CountClaims(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM claims`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return n, nil
}

func proofToBytes(p claim.Proof) [][]byte {
	out := make([][]byte, len(p))
	for i, h := range p {
		b := make([]byte, claim.HashSize)
		copy(b, h[:])
		out[i] = b
	}
	return out
}

func proofFromBytes(raw [][]byte) (claim.Proof, error) {
	proof := make(claim.Proof, len(raw))
	for i, b := range raw {
		if len(b) != claim.HashSize {
			return nil, fmt.Errorf("proof element %d is %d bytes", i, len(b))
		}
		copy(proof[i][:], b)
	}
	return proof, nil
}
