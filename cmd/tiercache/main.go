package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/rauko-labs/cachekit/cache"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <redis-url> <get|set|add|delete|exists|flush> [key] [value]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Example: %s redis://localhost:6379 set greeting hello\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	redisURL := os.Args[1]
	op := os.Args[2]

	logger := log.New(os.Stderr)

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal("invalid redis URL", "error", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Fatal("cannot reach redis", "error", err)
	}

	level1 := cache.NewInMemory(ctx, cache.WithPrefix("l1"))
	defer level1.Close()
	level2 := cache.NewRedis(client, cache.WithPrefix("tiercache"))

	ml, err := cache.NewMultilevel(level1, level2,
		cache.WithLogger(logger),
		cache.WithPromotionTTL(time.Minute))
	if err != nil {
		logger.Fatal("cannot build cache", "error", err)
	}

	switch op {
	case "get":
		if len(os.Args) != 4 {
			usage()
		}
		found, val, err := cache.Get[string](ctx, ml, os.Args[3])
		if err != nil {
			logger.Fatal("get failed", "error", err)
		}
		if !found {
			fmt.Println("(miss)")
			return
		}
		fmt.Println(val)
	case "set":
		if len(os.Args) != 5 {
			usage()
		}
		if err := ml.Set(ctx, os.Args[3], os.Args[4], cache.TTLDefault, nil); err != nil {
			logger.Fatal("set failed", "error", err)
		}
		fmt.Println("ok")
	case "add":
		if len(os.Args) != 5 {
			usage()
		}
		added, err := ml.Add(ctx, os.Args[3], os.Args[4], cache.TTLDefault, nil)
		if err != nil {
			logger.Fatal("add failed", "error", err)
		}
		if !added {
			fmt.Println("already present")
			return
		}
		fmt.Println("ok")
	case "delete":
		if len(os.Args) != 4 {
			usage()
		}
		if err := ml.Delete(ctx, os.Args[3]); err != nil {
			logger.Fatal("delete failed", "error", err)
		}
		fmt.Println("ok")
	case "exists":
		if len(os.Args) != 4 {
			usage()
		}
		found, err := ml.Exists(ctx, os.Args[3])
		if err != nil {
			logger.Fatal("exists failed", "error", err)
		}
		fmt.Println(found)
	case "flush":
		if err := ml.Flush(ctx); err != nil {
			logger.Fatal("flush failed", "error", err)
		}
		fmt.Println("ok")
	default:
		usage()
	}
}
