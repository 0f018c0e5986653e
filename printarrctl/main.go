package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	printarr "github.com/AdamA817/printarr-sub002"
)

const PrintarrCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Printarr control.

The default api url is http://localhost:7878/api

Usage:
    printarrctl watch [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
    printarrctl channels [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
    printarrctl designs [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
        [--state=<state>]... [--search=<search>]
        [--sort_by=<sort_by>] [--sort_order=<sort_order>]
    printarrctl set-state <design_id> <state> [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
    printarrctl stats [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Path to a hujson config file.
    --api_url=<api_url>
    --jwt=<jwt>                Your printarr JWT.
    --state=<state>            Filter designs by state. Repeatable.
    --search=<search>          Filter designs by search text.
    --sort_by=<sort_by>        One of name, create_time, state, size.
    --sort_order=<sort_order>  asc or desc.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PrintarrCtlVersion)
	if err != nil {
		panic(err)
	}

	config := loadConfig(opts)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := printarr.NewClientWithDefaults(cancelCtx, config)
	defer client.Close()

	if watch, _ := opts.Bool("watch"); watch {
		watchQueue(cancelCtx, client)
	} else if channels, _ := opts.Bool("channels"); channels {
		listChannels(cancelCtx, client)
	} else if designs, _ := opts.Bool("designs"); designs {
		listDesigns(cancelCtx, client, parseFilter(opts))
	} else if setState, _ := opts.Bool("set-state"); setState {
		designIdStr, _ := opts.String("<design_id>")
		stateStr, _ := opts.String("<state>")
		setDesignState(cancelCtx, client, designIdStr, stateStr)
	} else if stats, _ := opts.Bool("stats"); stats {
		showStats(cancelCtx, client)
	}
}

func loadConfig(opts docopt.Opts) *printarr.ClientConfig {
	var config *printarr.ClientConfig
	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		var loadErr error
		config, loadErr = printarr.LoadClientConfig(configPath)
		if loadErr != nil {
			Err.Fatalf("Could not load config: %s", loadErr)
		}
	} else {
		apiUrl, err := opts.String("--api_url")
		if err != nil || apiUrl == "" {
			apiUrl = "http://localhost:7878/api"
		}
		config = printarr.DefaultClientConfig(apiUrl)
	}

	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		config.ByJwt = jwt
	}
	if config.ByJwt == "" {
		config.ByJwt = promptJwt()
	}
	return config
}

func promptJwt() string {
	fmt.Fprint(os.Stderr, "JWT: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(jwtBytes))
}

func parseFilter(opts docopt.Opts) *printarr.DesignFilter {
	filter := printarr.DefaultDesignFilter()
	if search, err := opts.String("--search"); err == nil {
		filter.Search = search
	}
	if states, ok := opts["--state"].([]string); ok {
		for _, stateStr := range states {
			filter.States = append(filter.States, printarr.DesignState(stateStr))
		}
	}
	if sortBy, err := opts.String("--sort_by"); err == nil && sortBy != "" {
		filter.SortBy = sortBy
	}
	if sortOrder, err := opts.String("--sort_order"); err == nil && sortOrder != "" {
		filter.SortOrder = printarr.SortOrder(sortOrder)
	}
	// round-trip through the canonical representation so illegal values
	// fall back to defaults the same way the persisted form does
	return printarr.ParseDesignFilterString(filter.Encode())
}

func watchQueue(ctx context.Context, client *printarr.Client) {
	client.Bridge().AddConnectionStateCallback(func(connectionState printarr.ConnectionState) {
		Out.Printf("connection: %s", connectionState)
	})
	client.Bridge().AddEventCallback(func(event *printarr.Event) {
		if event.Type == printarr.EventTypeHeartbeat {
			return
		}
		Out.Printf("event: %s", event.Type)
	})

	release := client.ObserveJobQueue(func(entry printarr.CacheEntry) {
		queue, ok := entry.Value.(*printarr.JobQueue)
		if !ok || queue == nil {
			return
		}
		for _, job := range queue.Jobs {
			if job.State.IsActive() {
				Out.Printf("%s %s %s %.0f%%", job.JobId, job.Type, job.State, 100*job.Progress)
			}
		}
	})
	defer release()

	client.Start()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
}

func listChannels(ctx context.Context, client *printarr.Client) {
	result, err := client.Api().ChannelsSync(ctx)
	if err != nil {
		Err.Fatalf("Could not list channels: %s", err)
	}
	for _, channel := range result.Channels {
		Out.Printf("%s %s mode=%s enabled=%t designs=%d", channel.ChannelId, channel.Name, channel.DownloadMode, channel.Enabled, channel.DesignCount)
	}
}

func listDesigns(ctx context.Context, client *printarr.Client, filter *printarr.DesignFilter) {
	result, err := client.Api().DesignsSync(ctx, filter)
	if err != nil {
		Err.Fatalf("Could not list designs: %s", err)
	}
	for _, design := range result.Designs {
		Out.Printf("%s %s %s files=%d", design.DesignId, design.Name, design.State, design.FileCount)
	}
	Out.Printf("%d of %d", len(result.Designs), result.Total)
}

func setDesignState(ctx context.Context, client *printarr.Client, designIdStr string, stateStr string) {
	designId, err := printarr.ParseId(designIdStr)
	if err != nil {
		Err.Fatalf("Bad design id: %s", err)
	}
	if err := client.SetDesignState(ctx, designId, printarr.DesignState(stateStr)); err != nil {
		Err.Fatalf("Could not set state: %s", err)
	}
	Out.Printf("ok")
}

func showStats(ctx context.Context, client *printarr.Client) {
	result, err := client.Api().StatsSync(ctx)
	if err != nil {
		Err.Fatalf("Could not get stats: %s", err)
	}
	stats := result.Stats
	Out.Printf("channels=%d designs=%d wanted=%d downloading=%d organized=%d queued=%d failed=%d",
		stats.TotalChannels, stats.TotalDesigns, stats.WantedCount, stats.DownloadingCount,
		stats.OrganizedCount, stats.QueuedJobs, stats.FailedJobs)
}
