package main

import (
	"context"
	"encoding/csv"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/fumin/qvmc"
	"github.com/fumin/qvmc/store"
)

const (
	fnameDB = "qvmc.db"
)

var (
	configPath = flag.String("c", "", "YAML config file")
	runDir     = flag.String("d", filepath.Join("runs", "qvmc"), "run directory")
	runName    = flag.String("run", "default", "run name under which results are stored")
	resume     = flag.Bool("resume", false, "continue from the stored parameters and chains of the run")
)

func readConfig(path string) (qvmc.Config, error) {
	def := qvmc.DefaultConfig()
	v := viper.New()
	defaults := map[string]any{
		"nparticles":      def.NumParticles,
		"dim":             def.Dim,
		"nsamples":        def.NumSamples,
		"nchains":         def.NumChains,
		"backend":         def.Backend,
		"hamiltonian":     def.Hamiltonian,
		"interaction":     def.Interaction,
		"radius":          def.Radius,
		"gamma":           def.Gamma,
		"mcmc_alg":        def.Sampler,
		"scale":           def.Scale,
		"time_step":       def.TimeStep,
		"diffusion_coeff": def.Diffusion,
		"optimizer":       def.Optimizer,
		"estimator":       def.Estimator,
		"eta":             def.Eta,
		"training_cycles": def.TrainingCycles,
		"batch_size":      def.BatchSize,
		"seed":            def.Seed,
		"alpha":           def.Alpha,
		"beta":            def.Beta,
		"log_interval":    def.LogInterval,
	}
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return qvmc.Config{}, errors.Wrap(err, "")
		}
	}
	var cfg qvmc.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return qvmc.Config{}, errors.Wrap(err, "")
	}
	return cfg, nil
}

func restore(ctx context.Context, db *store.Store, s *qvmc.System, run string) error {
	p, err := db.LoadParams(ctx, run)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if p == nil {
		return nil
	}
	if err := s.Wavefunction().SetParams(p); err != nil {
		return errors.Wrap(err, "")
	}
	states, err := db.LoadChains(ctx, run)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := s.Restore(states); err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("resumed %s at %s with %d chains", run, p, len(states))
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg, err := readConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	db, err := store.Open(filepath.Join(*runDir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer db.Close()

	s, err := qvmc.NewSystem(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *resume {
		if err := restore(ctx, db, s, *runName); err != nil {
			return errors.Wrap(err, "")
		}
	}

	start := time.Now()
	if cfg.TrainingCycles > 0 {
		if _, err := s.Train(ctx, cfg.TrainingCycles, cfg.BatchSize); err != nil {
			return errors.Wrap(err, "")
		}
		log.Printf("trained %d cycles in %s, params %s", cfg.TrainingCycles, time.Since(start), s.Wavefunction().Params())
	}
	if err := db.SaveParams(ctx, *runName, s.Wavefunction().Params()); err != nil {
		return errors.Wrap(err, "")
	}

	res, err := s.Sample(ctx, cfg.NumSamples, cfg.NumChains)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := db.SaveChains(ctx, *runName, s.States()); err != nil {
		return errors.Wrap(err, "")
	}
	recs := append([]qvmc.Record{s.Record(res)}, s.ChainRecords(res)...)
	for _, r := range recs {
		if err := db.SaveRecord(ctx, *runName, r); err != nil {
			return errors.Wrap(err, "")
		}
	}
	log.Printf("sampled in %s: %s", time.Since(start), recs[0])

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(qvmc.RecordHeader); err != nil {
		return errors.Wrap(err, "")
	}
	for _, r := range recs {
		if err := w.Write(r.CSV()); err != nil {
			return errors.Wrap(err, "")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
