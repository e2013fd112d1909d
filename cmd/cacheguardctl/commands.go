package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/cacheguard/cacheguard/pkg/xbloom"
	"github.com/cacheguard/cacheguard/pkg/xengine"
	"github.com/cacheguard/cacheguard/pkg/xkvstore"
	"github.com/cacheguard/cacheguard/pkg/xlease"
)

// buildEngine wires a full Engine from CLI flags: a Redis-backed KvStore, a
// shared membership filter, local locks (always on), and an optional Redis
// distributed lease backend.
func buildEngine(cmd *cli.Command, log engineLogger, metrics xengine.Metrics) (*xengine.Engine, func(), error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}

	addr := cmd.String("redis")
	if cfg.Redis.Addr != "" {
		addr = cfg.Redis.Addr
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	insertions := uint(cmd.Uint64("bloom-insertions"))
	fpRate := cmd.Float64("bloom-fp-rate")
	if cfg.Bloom.ExpectedInsertions > 0 {
		insertions = cfg.Bloom.ExpectedInsertions
	}
	if cfg.Bloom.FalsePositiveRate > 0 {
		fpRate = cfg.Bloom.FalsePositiveRate
	}

	store := xkvstore.NewRedisStore(client)
	filter := xbloom.New(insertions, fpRate)

	opts := []xengine.Option{
		xengine.WithMembershipFilter(filter),
		xengine.WithLogger(log),
		xengine.WithMetrics(metrics),
	}
	if cmd.Bool("distributed-lock") {
		factory, err := xlease.NewRedisFactory(client)
		if err != nil {
			return nil, nil, fmt.Errorf("build distributed lease factory: %w", err)
		}
		opts = append(opts, xengine.WithDistributedLeases(factory))
	}

	engine := xengine.New(store, opts...)
	cleanup := func() { _ = client.Close() }
	return engine, cleanup, nil
}

// demoLoad simulates an origin call: it sleeps for latency and returns a
// synthetic payload tagged with a random suffix, so repeated cache misses
// are visible in the output.
func demoLoad(latency time.Duration) xengine.LoadFn {
	return func(ctx context.Context) ([]byte, string, bool, error) {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, "", false, ctx.Err()
		}
		var buf [4]byte
		_, _ = rand.Read(buf[:])
		return []byte("origin-value-" + hex.EncodeToString(buf[:])), "go:string", false, nil
	}
}

func cacheOptionsFromFlags(cmd *cli.Command) xengine.CacheOptions {
	opts := xengine.DefaultCacheOptions()
	opts.BaseTTLSeconds = cmd.Int64("ttl")
	opts.RandomizeTTL = cmd.Bool("jitter")
	opts.Variance = cmd.Float64("variance")
	opts.UseMembershipFilter = cmd.Bool("use-filter")
	opts.UseLocalLock = cmd.Bool("use-local-lock")
	opts.UseDistributedLock = cmd.Bool("distributed-lock")
	opts.EnablePreRefresh = cmd.Bool("pre-refresh")
	opts.PreRefreshThreshold = cmd.Float64("pre-refresh-threshold")
	opts.SyncLoadTimeoutSec = int(cmd.Duration("load-timeout").Seconds())
	if cmd.String("pre-refresh-mode") == "async" {
		opts.PreRefreshMode = xengine.PreRefreshAsync
	}
	return opts
}

func createGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read a key through the protection engine, loading from a simulated origin on miss",
		ArgsUsage: "<cache> <key>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "origin-latency", Value: 50 * time.Millisecond, Usage: "simulated origin call latency"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return &usageError{msg: "get requires <cache> <key>"}
			}
			cache, key := cmd.Args().Get(0), cmd.Args().Get(1)

			log, closeLog, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()
			metrics := newMetrics()

			engine, cleanup, err := buildEngine(cmd, engineLogger{l: log}, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			req := xengine.ReadRequest{
				Cache:   cache,
				Key:     key,
				Options: cacheOptionsFromFlags(cmd),
				Load:    demoLoad(cmd.Duration("origin-latency")),
			}
			res, err := engine.Get(ctx, req)
			if err != nil {
				return fmt.Errorf("get failed: %w", err)
			}
			printResult(res)
			return nil
		},
	}
}

func createEvictCommand() *cli.Command {
	return &cli.Command{
		Name:      "evict",
		Usage:     "remove a single cached entry",
		ArgsUsage: "<cache> <key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return &usageError{msg: "evict requires <cache> <key>"}
			}
			cache, key := cmd.Args().Get(0), cmd.Args().Get(1)

			log, closeLog, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			engine, cleanup, err := buildEngine(cmd, engineLogger{l: log}, newMetrics())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.Evict(ctx, cache, key); err != nil {
				return fmt.Errorf("evict failed: %w", err)
			}
			fmt.Fprintf(os.Stdout, "evicted %s::%s\n", cache, key)
			return nil
		},
	}
}

func createEvictAllCommand() *cli.Command {
	return &cli.Command{
		Name:      "evict-all",
		Usage:     "remove every cached entry for a cache name",
		ArgsUsage: "<cache>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return &usageError{msg: "evict-all requires <cache>"}
			}
			cache := cmd.Args().Get(0)

			log, closeLog, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			engine, cleanup, err := buildEngine(cmd, engineLogger{l: log}, newMetrics())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := engine.EvictAll(ctx, cache); err != nil {
				return fmt.Errorf("evict-all failed: %w", err)
			}
			fmt.Fprintf(os.Stdout, "evicted all entries for %s\n", cache)
			return nil
		},
	}
}

func printResult(res xengine.Result) {
	switch res.Outcome {
	case xengine.OutcomeBlocked:
		fmt.Fprintln(os.Stdout, "blocked: key rejected by membership filter")
	case xengine.OutcomeEmpty:
		fmt.Fprintln(os.Stdout, "empty: origin returned nothing, null caching disabled")
	case xengine.OutcomeNull:
		fmt.Fprintln(os.Stdout, "null: cached absence")
	default:
		fmt.Fprintf(os.Stdout, "value (%s): %s\n", res.TypeTag, res.Value)
	}
}

// usageError signals a CLI argument mistake; run() maps it to exit code 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
