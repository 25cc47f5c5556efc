// Package main provides the equijoin CLI, a standalone harness that runs
// the join core against JSON-materialised input arrays (spec §6's
// "external collaborators" stubbed out for a runnable demo instead of
// wired into a real array-database query plan).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/csvquery/equijoin/internal/joinconfig"
	"github.com/csvquery/equijoin/internal/joinengine"
	"github.com/csvquery/equijoin/internal/obslog"
	"github.com/csvquery/equijoin/internal/peering"
	"github.com/csvquery/equijoin/internal/sizing"
)

const (
	Version   = "0.3.0"
	BuildDate = "2026-07-31"
)

var shutdownChan = make(chan os.Signal, 1)

func main() {
	setupSignalHandler()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "join":
		runJoin(os.Args[2:])
	case "version":
		fmt.Printf("equijoin v%s (%s)\n", Version, BuildDate)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func setupSignalHandler() {
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		fmt.Fprintln(os.Stderr, "interrupted, exiting")
		os.Exit(130)
	}()
}

func printUsage() {
	fmt.Println(`equijoin - distributed equi-join core demo harness

Usage:
    equijoin <command> [arguments]

Commands:
    join     Run an equi-join over two JSON-materialised arrays
    version  Show version
    help     Show this help

Use "equijoin join --help" for join-specific options.`)
}

// runJoin loads two JSON array files and a join configuration, picks the
// join algorithm with internal/sizing the way a host engine would, and
// drives internal/joinengine either across an in-process simulated peer set
// (internal/peering's LocalTransport/Cluster, the default) or, when
// --peer-addrs is given, as one real peer in a TCP rendezvous
// (internal/peering.NetTransport) alongside sibling processes launched the
// same way with differing --instance-id.
func runJoin(args []string) {
	fs := flag.NewFlagSet("join", flag.ExitOnError)

	leftPath := fs.String("left", "", "left array JSON file")
	rightPath := fs.String("right", "", "right array JSON file")
	configPath := fs.String("config", "", "join configuration JSON file (joinconfig.Config shape)")
	outPath := fs.String("out", "", "output JSON file (default: stdout via -out -)")
	peers := fs.Int("peers", 1, "number of simulated peers (in-process)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	peerAddrs := fs.String("peer-addrs", "", "comma-separated host:port list, one per instance; when set this process joins as one real network peer instead of simulating --peers in-process")
	instanceID := fs.Int("instance-id", -1, "this process's 0-based instance id into --peer-addrs (required with --peer-addrs)")
	coordinator := fs.Int("coordinator", 0, "instance id that acts as the collective-exchange coordinator")

	var cfg joinconfig.Config
	joinconfig.RegisterFlags(fs, &cfg)
	_ = fs.Parse(args)

	if *leftPath == "" || *rightPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --left and --right are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fileCfg, err := joinconfig.Load(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = mergeConfig(fileCfg, cfg, fs)
	}

	logger, err := obslog.New(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	leftSchema, leftArr, err := loadArrayFile(*leftPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	rightSchema, rightArr, err := loadArrayFile(*rightPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	resolved, err := joinconfig.Validate(cfg, leftSchema, rightSchema, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if resolved.Filter != "" {
		fmt.Fprintln(os.Stderr, "warning: --filter is accepted but not evaluated by this harness; the join core takes a compiled Predicate (joinengine.Predicate), not an expression string (spec §6 Non-goals: no expression language)")
	}

	leftMapping, leftWidth := joinconfig.BuildMapping(resolved.LeftIds, resolved.NumKeys, leftSchema, resolved.KeepDimensions)
	rightMapping, rightWidth := joinconfig.BuildMapping(resolved.RightIds, resolved.NumKeys, rightSchema, resolved.KeepDimensions)
	outputWidth := leftWidth + rightWidth - resolved.NumKeys
	if err := joinconfig.ValidateOutNames(resolved.OutNames, outputWidth); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	leftDimMaps, leftDimKeyPos := joinconfig.BuildDimMapping(resolved.RightIds, rightSchema)
	rightDimMaps, rightDimKeyPos := joinconfig.BuildDimMapping(resolved.LeftIds, leftSchema)

	thresholdBytes := joinconfig.MBToBytes(resolved.HashJoinThresholdMB)

	if *peerAddrs != "" {
		addrs := strings.Split(*peerAddrs, ",")
		if *instanceID < 0 || *instanceID >= len(addrs) {
			fmt.Fprintln(os.Stderr, "Error: --instance-id must be set and within range of --peer-addrs when --peer-addrs is used")
			os.Exit(1)
		}
		transport, err := peering.NewNetTransport(*instanceID, addrs, *coordinator, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer transport.Close()

		left := joinengine.SideInput{
			Array: leftArr, Mapping: leftMapping, Width: leftWidth,
			DimMaps: leftDimMaps, DimKeyPos: leftDimKeyPos,
		}
		right := joinengine.SideInput{
			Array: rightArr, Mapping: rightMapping, Width: rightWidth,
			DimMaps: rightDimMaps, DimKeyPos: rightDimKeyPos,
		}
		out, res, err := runOnPeer(transport, left, right, resolved, thresholdBytes, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "rows emitted: %d, rows filtered: %d\n", res.RowsEmitted, res.RowsFiltered)
		if *outPath == "" || *outPath == "-" {
			*outPath = "/dev/stdout"
		}
		if err := writeOutputFile(*outPath, out, resolved.OutNames); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cluster := peering.NewCluster(*peers)
	leftShards := shardArray(leftArr, *peers)
	rightShards := shardArray(rightArr, *peers)

	results := make([]joinengine.Result, *peers)
	outputs := make([]peering.Array, *peers)
	errs := make([]error, *peers)

	var wg sync.WaitGroup
	for p := 0; p < *peers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			transport := cluster.Peer(p)

			left := joinengine.SideInput{
				Array: leftShards[p], Mapping: leftMapping, Width: leftWidth,
				DimMaps: leftDimMaps, DimKeyPos: leftDimKeyPos,
			}
			right := joinengine.SideInput{
				Array: rightShards[p], Mapping: rightMapping, Width: rightWidth,
				DimMaps: rightDimMaps, DimKeyPos: rightDimKeyPos,
			}

			out, res, err := runOnPeer(transport, left, right, resolved, thresholdBytes, logger)
			if err != nil {
				errs[p] = err
				return
			}
			outputs[p] = out
			results[p] = res
		}(p)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", e)
			os.Exit(1)
		}
	}

	var totalEmitted, totalFiltered int64
	var allChunks []peering.Chunk
	for p := 0; p < *peers; p++ {
		totalEmitted += results[p].RowsEmitted
		totalFiltered += results[p].RowsFiltered
		it := outputs[p].Chunks()
		for {
			c, ok, err := it.Next()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !ok {
				break
			}
			allChunks = append(allChunks, c)
		}
	}
	combined := peering.NewMaterialArray(allChunks)

	if *outPath == "" || *outPath == "-" {
		fmt.Fprintf(os.Stderr, "rows emitted: %d, rows filtered: %d\n", totalEmitted, totalFiltered)
		*outPath = "/dev/stdout"
	}
	if err := writeOutputFile(*outPath, combined, resolved.OutNames); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runOnPeer sizes both sides, selects the join algorithm, and drives the
// join core for one peer. It is shared by the in-process simulated cluster
// (one goroutine per peering.LocalTransport peer) and the real-network
// single-process path (one call against a peering.NetTransport), the same
// logic either way since both satisfy peering.Transport.
func runOnPeer(transport peering.Transport, left, right joinengine.SideInput, resolved joinconfig.Resolved, thresholdBytes int64, logger obslog.Logger) (peering.Array, joinengine.Result, error) {
	localLeft, err := sizing.LocalLowerBound(left.Array, thresholdBytes)
	if err != nil {
		return nil, joinengine.Result{}, err
	}
	localRight, err := sizing.LocalLowerBound(right.Array, thresholdBytes)
	if err != nil {
		return nil, joinengine.Result{}, err
	}
	if fpLeft, err := sizing.LocalFingerprint(left.Array); err == nil {
		if fpRight, err := sizing.LocalFingerprint(right.Array); err == nil {
			logger.Debugw("local shard fingerprints", map[string]any{
				"instance": transport.InstanceID(), "leftFingerprint": fpLeft, "rightFingerprint": fpRight,
			})
		}
	}
	globalLeft, err := sizing.GlobalLowerBound(transport, localLeft)
	if err != nil {
		return nil, joinengine.Result{}, err
	}
	globalRight, err := sizing.GlobalLowerBound(transport, localRight)
	if err != nil {
		return nil, joinengine.Result{}, err
	}
	// Each peer's value is capped, but their sum can exceed the threshold;
	// the selector compares sizes capped at it.
	if globalLeft > thresholdBytes {
		globalLeft = thresholdBytes
	}
	if globalRight > thresholdBytes {
		globalRight = thresholdBytes
	}
	decision :=sizing.Select(resolved.Algorithm, resolved.LeftOuter, resolved.RightOuter, globalLeft, globalRight, thresholdBytes)
	if transport.InstanceID() == transport.CoordinatorID() {
		logger.Infow("algorithm selected", map[string]any{
			"algorithm": decision.Algorithm.String(), "leftSize": decision.LeftSize, "rightSize": decision.RightSize,
		})
	}

	opts := joinengine.Options{
		NumKeys:         resolved.NumKeys,
		HashThresholdMB: resolved.HashJoinThresholdMB,
		ChunkSize:       resolved.ChunkSize,
		BloomFilterSize: resolved.BloomFilterSize,
		LeftOuter:       resolved.LeftOuter,
		RightOuter:      resolved.RightOuter,
		Algorithm:       decision.Algorithm,
		Logger:          logger,
	}

	return joinengine.Run(left, right, decision.Algorithm, opts, transport)
}

// mergeConfig layers CLI flag overrides on top of a config file: any flag
// the user actually set on the command line wins, everything else keeps
// the file's value. The join-key fields (leftIds/rightIds/leftNames/
// rightNames) have no CLI flag counterpart — RegisterFlags only binds the
// scalar options — so they always come from the config file. fs.Visit
// only calls back for flags set explicitly, so this distinguishes "left at
// its zero-value default" from "explicitly passed."
func mergeConfig(file, flags joinconfig.Config, fs *flag.FlagSet) joinconfig.Config {
	merged := file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hash-join-threshold-mb":
			merged.HashJoinThresholdMB = flags.HashJoinThresholdMB
		case "chunk-size":
			merged.ChunkSize = flags.ChunkSize
		case "algorithm":
			merged.AlgorithmName = flags.AlgorithmName
		case "keep-dimensions":
			merged.KeepDimensions = flags.KeepDimensions
		case "bloom-filter-size":
			merged.BloomFilterSize = flags.BloomFilterSize
		case "filter":
			merged.Filter = flags.Filter
		case "left-outer":
			merged.LeftOuter = flags.LeftOuter
		case "right-outer":
			merged.RightOuter = flags.RightOuter
		}
	})
	return merged
}

// shardArray splits arr's chunks round-robin across n peers — a stand-in
// for a real array database's own chunk-to-instance placement, just enough
// to exercise the Transport collectives (Replicate, ShuffleByFirstDim,
// AllToAllInt64) with more than one peer in this in-process demo.
func shardArray(arr peering.Array, n int) []peering.Array {
	shards := make([][]peering.Chunk, n)
	it := arr.Chunks()
	i := 0
	for {
		c, ok, err := it.Next()
		if err != nil || !ok {
			break
		}
		shards[i%n] = append(shards[i%n], c)
		i++
	}
	out := make([]peering.Array, n)
	for p := range shards {
		out[p] = peering.NewMaterialArray(shards[p])
	}
	return out
}
