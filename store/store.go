// Package store persists chain checkpoints, variational parameters and result records in sqlite.
//
// Everything is keyed by a run name, so one database can hold many runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc"
	"github.com/fumin/qvmc/sampler"
	"github.com/fumin/qvmc/wavefunction"
)

const (
	tableChains    = "chains"
	tablePositions = "positions"
	tableParams    = "params"
	tableRecords   = "records"
)

type Store struct {
	Path string

	db *sql.DB
}

// Open opens the database at path, creating the tables if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, fmt.Sprintf("db %s", path))
	}
	return &Store{Path: path, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveChains replaces the chain checkpoints of run.
func (s *Store) SaveChains(ctx context.Context, run string, states []sampler.ChainState) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{tableChains, tablePositions} {
			sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=?`, table)
			if _, err := tx.ExecContext(ctx, sqlStr, run); err != nil {
				return errors.Wrap(err, sqlStr)
			}
		}

		chainStr := fmt.Sprintf(`INSERT INTO %s (run, chain, nrows, ncols, accepted, step, params_version) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableChains)
		posStr := fmt.Sprintf(`INSERT INTO %s (run, chain, i, j, v) VALUES (?, ?, ?, ?, ?)`, tablePositions)
		for _, st := range states {
			if st.Positions == nil {
				return errors.Errorf("chain %d has no positions", st.Chain)
			}
			n, d := st.Positions.Dims()
			args := []any{run, st.Chain, n, d, st.Accepted, st.Step, st.ParamsVersion}
			if _, err := tx.ExecContext(ctx, chainStr, args...); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%s %#v", chainStr, args))
			}
			for i := range n {
				for j := range d {
					if _, err := tx.ExecContext(ctx, posStr, run, st.Chain, i, j, st.Positions.At(i, j)); err != nil {
						return errors.Wrap(err, fmt.Sprintf("chain %d %d %d", st.Chain, i, j))
					}
				}
			}
		}
		return nil
	})
}

// LoadChains returns the chain checkpoints of run ordered by chain, or nothing if run has none.
// LogProb is left empty and is recomputed by the first sampler step.
func (s *Store) LoadChains(ctx context.Context, run string) ([]sampler.ChainState, error) {
	sqlStr := fmt.Sprintf(`SELECT chain, nrows, ncols, accepted, step, params_version FROM %s WHERE run=? ORDER BY chain`, tableChains)
	rows, err := s.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	states := make([]sampler.ChainState, 0)
	for rows.Next() {
		var st sampler.ChainState
		var n, d int
		if err := rows.Scan(&st.Chain, &n, &d, &st.Accepted, &st.Step, &st.ParamsVersion); err != nil {
			return nil, errors.Wrap(err, "")
		}
		st.Positions = mat.NewDense(n, d, nil)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	for k, st := range states {
		if err := s.loadPositions(ctx, run, st.Chain, st.Positions); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("chain %d", k))
		}
	}
	return states, nil
}

func (s *Store) loadPositions(ctx context.Context, run string, chain int, pos *mat.Dense) error {
	sqlStr := fmt.Sprintf(`SELECT i, j, v FROM %s WHERE run=? AND chain=?`, tablePositions)
	rows, err := s.db.QueryContext(ctx, sqlStr, run, chain)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer rows.Close()

	n, d := pos.Dims()
	var count int
	for rows.Next() {
		var i, j int
		var v float64
		if err := rows.Scan(&i, &j, &v); err != nil {
			return errors.Wrap(err, "")
		}
		if i < 0 || i >= n || j < 0 || j >= d {
			return errors.Errorf("position %d %d outside %dx%d", i, j, n, d)
		}
		pos.Set(i, j, v)
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "")
	}
	if count != n*d {
		return errors.Errorf("%d positions, expected %d", count, n*d)
	}
	return nil
}

// SaveParams replaces the variational parameters of run.
func (s *Store) SaveParams(ctx context.Context, run string, p wavefunction.Params) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=?`, tableParams)
		if _, err := tx.ExecContext(ctx, sqlStr, run); err != nil {
			return errors.Wrap(err, "")
		}
		sqlStr = fmt.Sprintf(`INSERT INTO %s (run, name, k, v) VALUES (?, ?, ?, ?)`, tableParams)
		for name, vs := range p {
			for k, v := range vs {
				if _, err := tx.ExecContext(ctx, sqlStr, run, name, k, v); err != nil {
					return errors.Wrap(err, fmt.Sprintf("%s %d", name, k))
				}
			}
		}
		return nil
	})
}

// LoadParams returns the variational parameters of run, or nil if run has none.
func (s *Store) LoadParams(ctx context.Context, run string) (wavefunction.Params, error) {
	sqlStr := fmt.Sprintf(`SELECT name, k, v FROM %s WHERE run=? ORDER BY name, k`, tableParams)
	rows, err := s.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var p wavefunction.Params
	for rows.Next() {
		var name string
		var k int
		var v float64
		if err := rows.Scan(&name, &k, &v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if p == nil {
			p = make(wavefunction.Params)
		}
		if k != len(p[name]) {
			return nil, errors.Errorf("%s index %d after %d values", name, k, len(p[name]))
		}
		p[name] = append(p[name], v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return p, nil
}

// SaveRecord inserts or replaces the record of rec.Chain in run.
func (s *Store) SaveRecord(ctx context.Context, run string, rec qvmc.Record) error {
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, chain, nparticles, dim, eta, sampler, training_cycles, training_batch, optimizer, energy, std_error, variance, accept_rate, scale, nsamples) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableRecords)
	args := []any{run, rec.Chain, rec.NumParticles, rec.Dim, rec.Eta, rec.Sampler, rec.TrainingCycles, rec.TrainingBatch, rec.Optimizer, rec.Energy, rec.StdError, rec.Variance, rec.AcceptRate, rec.Scale, rec.NumSamples}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%#v", args))
	}
	return nil
}

// Records returns the records of run ordered by chain, the aggregate first.
func (s *Store) Records(ctx context.Context, run string) ([]qvmc.Record, error) {
	sqlStr := fmt.Sprintf(`SELECT chain, nparticles, dim, eta, sampler, training_cycles, training_batch, optimizer, energy, std_error, variance, accept_rate, scale, nsamples FROM %s WHERE run=? ORDER BY chain`, tableRecords)
	rows, err := s.db.QueryContext(ctx, sqlStr, run)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	recs := make([]qvmc.Record, 0)
	for rows.Next() {
		var r qvmc.Record
		if err := rows.Scan(&r.Chain, &r.NumParticles, &r.Dim, &r.Eta, &r.Sampler, &r.TrainingCycles, &r.TrainingBatch, &r.Optimizer, &r.Energy, &r.StdError, &r.Variance, &r.AcceptRate, &r.Scale, &r.NumSamples); err != nil {
			return nil, errors.Wrap(err, "")
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return recs, nil
}

func (s *Store) inTx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, chain INTEGER, nrows INTEGER, ncols INTEGER, accepted INTEGER, step INTEGER, params_version INTEGER, PRIMARY KEY (run, chain)) STRICT`, tableChains),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, chain INTEGER, i INTEGER, j INTEGER, v REAL, PRIMARY KEY (run, chain, i, j)) STRICT`, tablePositions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, name TEXT, k INTEGER, v REAL, PRIMARY KEY (run, name, k)) STRICT`, tableParams),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, chain INTEGER, nparticles INTEGER, dim INTEGER, eta REAL, sampler TEXT, training_cycles INTEGER, training_batch INTEGER, optimizer TEXT, energy REAL, std_error REAL, variance REAL, accept_rate REAL, scale REAL, nsamples INTEGER, PRIMARY KEY (run, chain)) STRICT`, tableRecords),
	}
	for _, sqlStr := range stmts {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
