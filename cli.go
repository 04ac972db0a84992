package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/lipgloss"

	"github.com/epalmerini/burrow/internal/conncache"
	"github.com/epalmerini/burrow/internal/message"
)

var (
	primaryColor   = lipgloss.Color("#FF6B6B")
	secondaryColor = lipgloss.Color("#4ECDC4")
	mutedColor     = lipgloss.Color("#6C757D")
	successColor   = lipgloss.Color("#2ECC71")
	errorColor     = lipgloss.Color("#E74C3C")

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	idStyle        = lipgloss.NewStyle().Bold(true).Foreground(secondaryColor)
	fieldNameStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	okStyle        = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	failStyle      = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
)

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "queues":
		return a.cmdQueues()
	case "size":
		return a.cmdSize(ctx, args)
	case "list":
		return a.cmdList(ctx, args)
	case "drop":
		return a.cmdDrop(ctx, args)
	case "drop-all":
		return a.cmdDropAll(ctx, args)
	case "republish":
		return a.cmdRepublish(ctx, args)
	case "audit":
		return a.cmdAudit(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// withCache runs fn with a connection cache that lives for the command.
func (a *app) withCache(fn func(c *conncache.Cache) error) error {
	c := conncache.New(a.dialer, a.registry)
	err := fn(c)
	return errors.Join(err, c.Close())
}

func (a *app) flags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	queue := fs.String("queue", "", "queue id (default: first configured queue)")
	return fs, queue
}

func (a *app) queueID(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	id, ok := a.engine.DefaultQueueID()
	if !ok {
		return "", errors.New("no queues configured")
	}
	return id, nil
}

func (a *app) cmdQueues() error {
	ids := a.engine.QueueIDs()
	if len(ids) == 0 {
		fmt.Fprintln(a.out, mutedStyle.Render("no queues configured"))
		return nil
	}
	for i, id := range ids {
		dest, _ := a.registry.Resolve(id)
		line := idStyle.Render(id) + "  " + mutedStyle.Render(dest.ReadQueue+" @ "+dest.ReadBinder)
		if i == 0 {
			line += "  " + okStyle.Render("(default)")
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *app) cmdSize(ctx context.Context, args []string) error {
	fs, queue := a.flags("size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	queueID, err := a.queueID(*queue)
	if err != nil {
		return err
	}

	return a.withCache(func(c *conncache.Cache) error {
		size, ok, err := a.engine.QueueSize(ctx, c, queueID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("queue %q not found", queueID)
		}
		fmt.Fprintf(a.out, "%s %d\n", idStyle.Render(queueID), size)
		return nil
	})
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs, queue := a.flags("list")
	limit := fs.Int("limit", 0, "maximum messages to show (default: all)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	queueID, err := a.queueID(*queue)
	if err != nil {
		return err
	}

	return a.withCache(func(c *conncache.Cache) error {
		views, err := a.engine.Messages(ctx, c, queueID, *limit)
		if err != nil {
			return err
		}
		if *asJSON {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(views)
		}
		a.printViews(queueID, views)
		return nil
	})
}

func (a *app) printViews(queueID string, views []message.View) {
	fmt.Fprintln(a.out, titleStyle.Render(fmt.Sprintf("%s: %d message(s)", queueID, len(views))))
	for _, v := range views {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, idStyle.Render(v.ID))
		for _, k := range slices.Sorted(maps.Keys(v.Headers)) {
			fmt.Fprintf(a.out, "  %s %v\n", fieldNameStyle.Render(k+":"), v.Headers[k])
		}
		if v.Decoded != nil {
			if b, err := json.Marshal(v.Decoded); err == nil {
				fmt.Fprintf(a.out, "  %s %s\n", fieldNameStyle.Render("decoded:"), b)
			}
		}
		fmt.Fprintf(a.out, "  %s %s\n", fieldNameStyle.Render("body:"), v.Body)
	}
}

func (a *app) messageArgs(name string, args []string) (queueID, messageID string, err error) {
	fs, queue := a.flags(name)
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if fs.NArg() != 1 {
		return "", "", fmt.Errorf("%s: expected exactly one message id", name)
	}
	queueID, err = a.queueID(*queue)
	return queueID, fs.Arg(0), err
}

func (a *app) cmdDrop(ctx context.Context, args []string) error {
	queueID, messageID, err := a.messageArgs("drop", args)
	if err != nil {
		return err
	}

	return a.withCache(func(c *conncache.Cache) error {
		res, err := a.engine.Drop(ctx, c, queueID, messageID)
		if err != nil {
			return err
		}
		if !res.Success {
			fmt.Fprintln(a.out, failStyle.Render("not found: ")+messageID)
			return fmt.Errorf("message %s not found in %s", messageID, queueID)
		}
		fmt.Fprintln(a.out, okStyle.Render("dropped: ")+res.Matched.ID)
		return nil
	})
}

func (a *app) cmdRepublish(ctx context.Context, args []string) error {
	queueID, messageID, err := a.messageArgs("republish", args)
	if err != nil {
		return err
	}

	return a.withCache(func(c *conncache.Cache) error {
		res, err := a.engine.Republish(ctx, c, queueID, messageID)
		if err != nil {
			return err
		}
		if !res.Success {
			fmt.Fprintln(a.out, failStyle.Render("not found: ")+messageID)
			return fmt.Errorf("message %s not found in %s", messageID, queueID)
		}
		fmt.Fprintf(a.out, "%s%s (%d)\n", okStyle.Render("republished: "), messageID, res.Republished)
		return nil
	})
}

func (a *app) cmdDropAll(ctx context.Context, args []string) error {
	fs, queue := a.flags("drop-all")
	yes := fs.Bool("yes", false, "confirm purging the queue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("drop-all purges every message; pass -yes to confirm")
	}
	queueID, err := a.queueID(*queue)
	if err != nil {
		return err
	}

	return a.withCache(func(c *conncache.Cache) error {
		ok, err := a.engine.DropAll(ctx, c, queueID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("queue %q not found", queueID)
		}
		fmt.Fprintln(a.out, okStyle.Render("purged: ")+queueID)
		return nil
	})
}

func (a *app) cmdAudit(ctx context.Context, args []string) error {
	fs, queue := a.flags("audit")
	limit := fs.Int("limit", a.cfg.AuditLimit, "maximum records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.store == nil {
		return errors.New("audit log is disabled")
	}

	records, err := a.store.ListActions(ctx, *queue, int64(*limit))
	if err != nil {
		return err
	}
	for _, r := range records {
		status := okStyle.Render("ok")
		if !r.Success {
			status = failStyle.Render("failed")
		}
		fmt.Fprintf(a.out, "%s  %-9s %s %s %s %s\n",
			mutedStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			r.Action, idStyle.Render(r.QueueID), r.MessageID, status, mutedStyle.Render(r.Error))
	}
	return nil
}
