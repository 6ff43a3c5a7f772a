package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"drinky-board/internal/config"
	"drinky-board/internal/model"
	"drinky-board/internal/relay"
	"drinky-board/pkg/drinky"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: drinkyctl [-config file] <command>

commands:
  status                          watch device connectivity
  capture                         relay "down <code>" / "up <code>" lines from stdin
  <collection> list
  <collection> add <name> [key=value...]
  <collection> edit <id> [key=value...]
  <collection> activate <id>
  <collection> delete <id>
  <collection> reorder <id>...

key=value sets name, description, active (true|false) or a numeric
parameter such as wpm=60.
`)
}

var errUsage = errors.New("usage")

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, drinky.UserMessage(err))
		log.Printf("drinkyctl: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notices := make(chan relay.Notice, 16)
	core := drinky.New(cfg, nil, func(n relay.Notice) {
		select {
		case notices <- n:
		default:
			log.Printf("relay: %s", n.Message)
		}
	})
	defer core.Close()

	args := flag.Args()
	switch args[0] {
	case "status":
		return watchStatus(ctx, core)
	case "capture":
		return capture(ctx, core, notices)
	}
	col, ok := core.Collection(args[0])
	if !ok {
		return errUsage
	}
	return collectionCommand(ctx, col, args[1:])
}

func watchStatus(ctx context.Context, core *drinky.Core) error {
	unsub := core.Monitor.Subscribe(func(st model.ConnectionState) {
		line := fmt.Sprintf("%s  %s", st.Status, st.Message)
		if f := st.Freshness(time.Now()); f != "" {
			line += "  (heartbeat " + f + ")"
		}
		fmt.Println(line)
	})
	defer unsub()
	core.Start(ctx)
	<-ctx.Done()
	return nil
}

func capture(ctx context.Context, core *drinky.Core, notices <-chan relay.Notice) error {
	core.Start(ctx)
	if err := core.Relay.Start(ctx); err != nil {
		return err
	}
	fmt.Println("capturing; type \"down <code>\" or \"up <code>\", \"exit\" to stop")

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			core.Relay.Stop()
			return nil
		case n := <-notices:
			fmt.Println(n.Message)
			if n.Level == relay.Failure {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				core.Relay.Stop()
				return nil
			}
			f := strings.Fields(line)
			switch {
			case len(f) == 1 && f[0] == "exit":
				core.Relay.Stop()
				return nil
			case len(f) == 2 && f[0] == "down":
				core.Relay.KeyDown(f[1])
			case len(f) == 2 && f[0] == "up":
				core.Relay.KeyUp(f[1])
			default:
				fmt.Println("?", line)
			}
		}
	}
}

type collectionSync interface {
	List(ctx context.Context) ([]model.Item, error)
	Add(ctx context.Context, item model.Item) (string, error)
	Edit(ctx context.Context, id string, item model.Item) error
	SetActive(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
	Items() []model.Item
}

func collectionCommand(ctx context.Context, col collectionSync, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	var err error
	switch args[0] {
	case "list":
		_, err = col.List(ctx)
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("add needs a name")
		}
		item := model.Item{Name: args[1], Params: map[string]float64{}}
		if err = setFields(&item, args[2:]); err != nil {
			return err
		}
		var id string
		if id, err = col.Add(ctx, item); err == nil {
			fmt.Println("added", id)
		}
	case "edit":
		if len(args) < 2 {
			return fmt.Errorf("edit needs an id")
		}
		if _, err = col.List(ctx); err != nil {
			return err
		}
		item, ok := findItem(col.Items(), args[1])
		if !ok {
			return fmt.Errorf("no item %s", args[1])
		}
		if err = setFields(&item, args[2:]); err != nil {
			return err
		}
		err = col.Edit(ctx, item.ID, item)
	case "activate":
		if len(args) != 2 {
			return fmt.Errorf("activate needs one id")
		}
		err = col.SetActive(ctx, args[1])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("delete needs one id")
		}
		err = col.Remove(ctx, args[1])
	case "reorder":
		err = col.Reorder(ctx, args[1:])
	default:
		return fmt.Errorf("unknown action %q", args[0])
	}
	for _, it := range col.Items() {
		mark := " "
		if it.IsActive {
			mark = "*"
		}
		fmt.Printf("%s %s  %s\n", mark, it.ID, it.Name)
	}
	return err
}

func findItem(items []model.Item, id string) (model.Item, bool) {
	for _, it := range items {
		if it.ID == id {
			if it.Params == nil {
				it.Params = map[string]float64{}
			}
			return it, true
		}
	}
	return model.Item{}, false
}

// setFields applies key=value arguments to it.
func setFields(it *model.Item, kvs []string) error {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("bad field %q, want key=value", kv)
		}
		switch k {
		case "name":
			it.Name = v
		case "description":
			it.Description = v
		case "active":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("active: %w", err)
			}
			it.IsActive = b
		default:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			it.Params[k] = f
		}
	}
	return nil
}
