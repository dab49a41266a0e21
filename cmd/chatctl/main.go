package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/profile"
)

type cli struct {
	client  *api.Client
	jsonOut bool
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatalf("error: .env: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fatalf("error: %v", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	if args[0] == "config" {
		cmdConfig(configPath, cfg, args[1:])
		return
	}

	profileName := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(profileName); err != nil {
		fatalf("error: %v", err)
	}

	c, err := api.Dial(profile.SocketPath(profileName))
	if err != nil {
		fatalf("error: cannot connect to daemon for profile %q: %v", profileName, err)
	}
	defer func() { _ = c.Close() }()
	app := &cli{client: c, jsonOut: *jsonFlag}

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		app.watch(ctx, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		app.status(ctx)
	case "messages":
		app.messages(ctx, args[1:])
	case "send":
		app.send(ctx, args[1:])
	case "retry":
		resp, err := c.RetryMessage(ctx, parseID("retry", args[1:]))
		app.action("retry", resp, err)
	case "delete":
		resp, err := c.DeleteMessage(ctx, parseID("delete", args[1:]))
		app.action("delete", resp, err)
	case "recall":
		resp, err := c.RecallMessage(ctx, parseID("recall", args[1:]))
		app.action("recall", resp, err)
	case "more":
		resp, err := c.LoadMore(ctx)
		app.action("load more", resp, err)
	case "reload":
		st, err := c.LoadInitial(ctx)
		app.state(st, err)
	case "search":
		app.search(ctx, args[1:])
	case "filter":
		app.filter(ctx, args[1:])
	case "queue":
		app.queue(ctx, args[1:])
	case "draft":
		st, err := c.SetDraft(ctx, strings.Join(args[1:], " "))
		app.state(st, err)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show store state summary")
	fmt.Fprintln(os.Stderr, "  messages [--filtered]         List loaded messages")
	fmt.Fprintln(os.Stderr, "  send [--type t] <text>        Send a message")
	fmt.Fprintln(os.Stderr, "  retry <id>                    Retry a failed message")
	fmt.Fprintln(os.Stderr, "  delete <id>                   Delete a message on the server")
	fmt.Fprintln(os.Stderr, "  recall <id>                   Recall a recent message")
	fmt.Fprintln(os.Stderr, "  more                          Load an older page")
	fmt.Fprintln(os.Stderr, "  reload                        Reload the newest page")
	fmt.Fprintln(os.Stderr, "  search [--sender s] <query>   Server-side search")
	fmt.Fprintln(os.Stderr, "  filter <all|user|bot> [query] Set the local view filter")
	fmt.Fprintln(os.Stderr, "  queue [list|clear|drain]      Inspect or act on the offline queue")
	fmt.Fprintln(os.Stderr, "  draft <text>                  Save the draft (empty clears)")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                Stream store events")
	fmt.Fprintln(os.Stderr, "  config [show|init]            Print or write the config file")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseID(cmd string, args []string) int64 {
	if len(args) != 1 {
		fatalf("usage: chatctl %s <id>", cmd)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatalf("error: invalid id %q", args[0])
	}
	return id
}

func (a *cli) check(err error) {
	if err != nil {
		fatalf("error: %v", err)
	}
}

func (a *cli) status(ctx context.Context) {
	st, err := a.client.GetState(ctx)
	a.check(err)
	if a.jsonOut {
		outputJSON(st)
		return
	}
	network := "offline"
	if st.IsOnline {
		network = "online"
	}
	fmt.Printf("Network:  %s\n", network)
	fmt.Printf("Messages: %d (page %d, more: %v)\n", len(st.Messages), st.CurrentPage, st.HasMore)
	fmt.Printf("Queue:    %d\n", len(st.OfflineQueue))
	fmt.Printf("Unread:   %d\n", st.UnreadCount)
	fmt.Printf("Filter:   %s %q\n", st.SenderFilter, st.SearchQuery)
	if st.Draft != "" {
		fmt.Printf("Draft:    %s\n", st.Draft)
	}
	if st.Error != "" {
		fmt.Printf("Error:    %s\n", st.Error)
	}
}

func (a *cli) messages(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("messages", flag.ExitOnError)
	filtered := flags.Bool("filtered", false, "apply the sender filter and search query")
	_ = flags.Parse(args)

	var msgs []api.MessageView
	if *filtered {
		resp, err := a.client.GetFilteredMessages(ctx)
		a.check(err)
		msgs = resp.Messages
	} else {
		st, err := a.client.GetState(ctx)
		a.check(err)
		msgs = st.Messages
	}
	if a.jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func (a *cli) send(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("send", flag.ExitOnError)
	typ := flags.String("type", "text", "message type: text, image or file")
	_ = flags.Parse(args)
	if flags.NArg() == 0 {
		fatalf("usage: chatctl send [--type t] <text>")
	}

	resp, err := a.client.SendMessage(ctx, strings.Join(flags.Args(), " "), *typ)
	a.check(err)
	if a.jsonOut {
		outputJSON(resp)
		return
	}
	printMessage(resp.Message)
}

func (a *cli) action(what string, resp *api.ActionResponse, err error) {
	a.check(err)
	if a.jsonOut {
		outputJSON(resp)
		return
	}
	if !resp.Applied {
		fmt.Printf("%s: nothing done\n", what)
		if resp.State.Error != "" {
			fmt.Printf("Error: %s\n", resp.State.Error)
		}
		return
	}
	if resp.Message != nil {
		printMessage(*resp.Message)
		return
	}
	fmt.Printf("%s: ok (%d messages loaded)\n", what, len(resp.State.Messages))
}

func (a *cli) state(st *api.StateView, err error) {
	a.check(err)
	if a.jsonOut {
		outputJSON(st)
		return
	}
	for _, m := range st.Messages {
		printMessage(m)
	}
	if st.Error != "" {
		fmt.Printf("Error: %s\n", st.Error)
	}
}

func (a *cli) search(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	sender := flags.String("sender", "", "restrict to user or bot")
	_ = flags.Parse(args)

	st, err := a.client.Search(ctx, strings.Join(flags.Args(), " "), *sender)
	a.state(st, err)
}

func (a *cli) filter(ctx context.Context, args []string) {
	if len(args) == 0 {
		fatalf("usage: chatctl filter <all|user|bot> [query]")
	}
	_, err := a.client.SetSenderFilter(ctx, args[0])
	a.check(err)
	_, err = a.client.SetSearchQuery(ctx, strings.Join(args[1:], " "))
	a.check(err)
	a.messages(ctx, []string{"--filtered"})
}

func (a *cli) queue(ctx context.Context, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		resp, err := a.client.ListQueue(ctx)
		a.check(err)
		if a.jsonOut {
			outputJSON(resp)
			return
		}
		for _, e := range resp.Entries {
			mark := ""
			if e.Exhausted {
				mark = " (exhausted)"
			}
			fmt.Printf("%s  %d/%d  %s%s\n", e.ID, e.RetryCount, e.MaxRetries, e.Content, mark)
		}
		fmt.Printf("%d retryable, %d exhausted\n", resp.Retryable, resp.Exhausted)
	case "clear":
		st, err := a.client.ClearQueue(ctx)
		a.check(err)
		if a.jsonOut {
			outputJSON(st)
			return
		}
		fmt.Println("queue cleared")
	case "drain":
		resp, err := a.client.ProcessQueue(ctx)
		a.check(err)
		if a.jsonOut {
			outputJSON(resp)
			return
		}
		switch {
		case resp.Skipped:
			fmt.Println("a drain is already running")
		case resp.Aborted:
			fmt.Printf("sent %d of %d, stopped: %s\n", resp.Sent, resp.Attempted, resp.State.Error)
		default:
			fmt.Printf("sent %d\n", resp.Sent)
		}
	default:
		fatalf("usage: chatctl queue [list|clear|drain]")
	}
}

func (a *cli) watch(ctx context.Context, args []string) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	stream, err := a.client.Watch(ctx, prefix)
	a.check(err)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalf("error: %v", err)
		}
		if a.jsonOut {
			b, _ := json.Marshal(evt)
			fmt.Println(string(b))
			continue
		}
		fmt.Printf("%s  %-18s %s\n", evt.OccurredAt.Format(time.TimeOnly), evt.Kind, evt.Payload)
	}
}

func cmdConfig(path string, cfg *config.Config, args []string) {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "show":
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fatalf("error: %v", err)
		}
	case "init":
		if _, err := os.Stat(path); err == nil {
			fatalf("error: %s already exists", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			fatalf("error: %v", err)
		}
		fmt.Printf("wrote %s\n", path)
	default:
		fatalf("usage: chatctl config [show|init]")
	}
}

func printMessage(m api.MessageView) {
	id := strconv.FormatInt(m.ID, 10)
	if m.Pending {
		id += "*"
	}
	fmt.Printf("%-20s %s %-4s %-8s %s\n", id, m.Timestamp.Local().Format("01-02 15:04"), m.Sender, m.Status, m.Content)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
