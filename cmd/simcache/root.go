package main

import (
	"math/rand"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachetrace/simcache/internal/hierarchy"
	"github.com/cachetrace/simcache/internal/metrics"
	"github.com/cachetrace/simcache/internal/policy"
	"github.com/cachetrace/simcache/internal/simaddr"
)

// config collects the flags newRootCmd registers; runSimulation turns it
// into a hierarchy.Config and drives the trace.
type config struct {
	addressSpace int
	policyName   string
	variantName  string
	seed         int64

	l1SizeStr, l2SizeStr, l3SizeStr   string
	l1Assoc, l2Assoc, l3Assoc         int
	blockSizeStr                      string
	l1Read, l1Write, l2Read, l2Write  int64
	l3Read, l3Write, memRead, memWrite int64
	boundedAddresses                  int

	output       string
	format       string
	pretty       bool
	logLevel     string
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	cmd := &cobra.Command{
		Use:   "simcache <trace-file>",
		Short: "Replay a memory-access trace against a simulated cache hierarchy",
		Long: "simcache ingests a sequential D/I R/W hex-address trace and reproduces " +
			"the behavior of a configurable multi-level set-associative cache hierarchy, " +
			"reporting hit/miss counts, block-movement transitions, and latency sums.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cfg, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.addressSpace, "address-space", 64, "physical address width in bits (8,16,32,48,64,80,96,112,128)")
	flags.StringVar(&cfg.policyName, "policy", "LRU", "replacement policy: LRU, LFU, RAND, NMRU, NMFU")
	flags.StringVar(&cfg.variantName, "variant", "inclusive", "hierarchy variant: inclusive, exclusive-bypassing")
	flags.Int64Var(&cfg.seed, "seed", 1, "seed for the policy's injected randomness source (RAND/NMRU/NMFU)")

	flags.StringVar(&cfg.l1SizeStr, "l1-size", "32KB", "L1 size, e.g. 32KB")
	flags.StringVar(&cfg.l2SizeStr, "l2-size", "2MB", "L2 size, e.g. 2MB")
	flags.StringVar(&cfg.l3SizeStr, "l3-size", "16MB", "L3 size, e.g. 16MB")
	flags.IntVar(&cfg.l1Assoc, "l1-associativity", 8, "L1 associativity")
	flags.IntVar(&cfg.l2Assoc, "l2-associativity", 8, "L2 associativity")
	flags.IntVar(&cfg.l3Assoc, "l3-associativity", 16, "L3 associativity")
	flags.StringVar(&cfg.blockSizeStr, "block-size", "64B", "cache block size, e.g. 64B")

	flags.Int64Var(&cfg.l1Read, "l1-read-latency", 0, "L1 read latency")
	flags.Int64Var(&cfg.l1Write, "l1-write-latency", 0, "L1 write latency")
	flags.Int64Var(&cfg.l2Read, "l2-read-latency", 0, "L2 read latency")
	flags.Int64Var(&cfg.l2Write, "l2-write-latency", 0, "L2 write latency")
	flags.Int64Var(&cfg.l3Read, "l3-read-latency", 0, "L3 read latency")
	flags.Int64Var(&cfg.l3Write, "l3-write-latency", 0, "L3 write latency")
	flags.Int64Var(&cfg.memRead, "mem-read-latency", 0, "MEM read latency (accepted; not added to access latency)")
	flags.Int64Var(&cfg.memWrite, "mem-write-latency", 0, "MEM write latency (accepted; not added to access latency)")

	flags.IntVar(&cfg.boundedAddresses, "bounded-addresses", 0, "cap the number of distinct addresses whose transition history is retained (0 = unbounded)")

	flags.StringVarP(&cfg.output, "output", "o", "", "metrics output path (default: <trace-file>.metrics)")
	flags.StringVar(&cfg.format, "format", "text", "metrics output format: text, json")
	flags.BoolVar(&cfg.pretty, "pretty", false, "also print a human-readable summary table to stdout")
	flags.StringVar(&cfg.logLevel, "log-level", "info", "zap log level: debug, info, warn, error")

	return cmd
}

// parseSize parses a human-readable size literal ("32KB", "2MB") via
// datasize's text-unmarshaling support.
func parseSize(field, s string) (int, error) {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(err, "%s %q", field, s)
	}
	return int(size.Bytes()), nil
}

func buildPolicy(cfg *config) (*policy.Policy, error) {
	var kind policy.Kind
	switch strings.ToUpper(cfg.policyName) {
	case "LRU":
		kind = policy.LRU
	case "LFU":
		kind = policy.LFU
	case "RAND":
		kind = policy.RAND
	case "NMRU":
		kind = policy.NMRU
	case "NMFU":
		kind = policy.NMFU
	default:
		return nil, errors.Errorf("unknown policy %q", cfg.policyName)
	}
	seed := cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return policy.New(kind, rng), nil
}

func buildVariant(cfg *config) (hierarchy.Variant, error) {
	switch strings.ToLower(cfg.variantName) {
	case "inclusive":
		return hierarchy.Inclusive, nil
	case "exclusive-bypassing", "exclusive_bypassing", "bypassing":
		return hierarchy.ExclusiveBypassing, nil
	default:
		return 0, errors.Errorf("unknown hierarchy variant %q", cfg.variantName)
	}
}

func buildSpace(cfg *config) (simaddr.Space, error) {
	space := simaddr.Space(cfg.addressSpace)
	if !space.Valid() {
		return 0, errors.Errorf("unsupported address space width %d", cfg.addressSpace)
	}
	return space, nil
}

func buildHierarchy(cfg *config, logger *zap.SugaredLogger) (*hierarchy.Hierarchy, error) {
	space, err := buildSpace(cfg)
	if err != nil {
		return nil, err
	}
	pol, err := buildPolicy(cfg)
	if err != nil {
		return nil, err
	}
	variant, err := buildVariant(cfg)
	if err != nil {
		return nil, err
	}

	var opts []metrics.Option
	if cfg.boundedAddresses > 0 {
		opts = append(opts, metrics.WithBoundedAddresses(cfg.boundedAddresses))
		logger.Infow("bounding per-address transition history", "capacity", cfg.boundedAddresses)
	}

	l1Size, err := parseSize("l1-size", cfg.l1SizeStr)
	if err != nil {
		return nil, err
	}
	l2Size, err := parseSize("l2-size", cfg.l2SizeStr)
	if err != nil {
		return nil, err
	}
	l3Size, err := parseSize("l3-size", cfg.l3SizeStr)
	if err != nil {
		return nil, err
	}
	blockSize, err := parseSize("block-size", cfg.blockSizeStr)
	if err != nil {
		return nil, err
	}

	hcfg := hierarchy.Config{
		Space:                space,
		Policy:               pol,
		Variant:              variant,
		LevelSizes:           [3]int{l1Size, l2Size, l3Size},
		LevelAssociativities: [3]int{cfg.l1Assoc, cfg.l2Assoc, cfg.l3Assoc},
		BlockSize:            blockSize,
		Latencies: [4]hierarchy.Latency{
			{Read: cfg.l1Read, Write: cfg.l1Write},
			{Read: cfg.l2Read, Write: cfg.l2Write},
			{Read: cfg.l3Read, Write: cfg.l3Write},
			{Read: cfg.memRead, Write: cfg.memWrite},
		},
		MetricsOptions: opts,
	}

	h, err := hierarchy.New(hcfg)
	if err != nil {
		return nil, errors.Wrap(err, "constructing hierarchy")
	}
	return h, nil
}
