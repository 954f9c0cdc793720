package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/replack/internal/config"
	"github.com/danmuck/replack/internal/logging"
	"github.com/danmuck/replack/internal/observability"
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/session"
	"github.com/danmuck/replack/internal/protocol/subopreply"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func metricsFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:  "metrics",
		Usage: "print codec and session metrics (Prometheus text format) after the run",
	}
}

// writeMetrics appends the metrics exposition when --metrics is set.
func writeMetrics(c *cli.Context) error {
	if !c.Bool("metrics") {
		return nil
	}
	return observability.WriteText(c.App.Writer)
}

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "yaml",
		Usage:   "output format (yaml, json)",
	}
}

func encodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "Encode the reply described by a request TOML into a frame",
		ArgsUsage: "<request.toml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "frame output path; stdout when unset",
			},
			&cli.BoolFlag{
				Name:  "append",
				Usage: "append to --out instead of truncating it",
			},
		},
		Action: encodeAction,
	}
}

func encodeAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("request path required", 1)
	}
	cfg := appConfig(c)
	req, err := config.LoadRequest(c.Args().First())
	if err != nil {
		return err
	}
	m, err := req.Reply()
	if err != nil {
		return err
	}

	if path := c.String("out"); path != "" {
		err = writeReplyFile(path, c.Bool("append"), cfg.Session(), m)
	} else {
		err = session.WriteReply(c.App.Writer, cfg.Session(), m)
	}
	if err != nil {
		return err
	}
	l := logging.Component("subopctl")
	l.Info().Uint64("tid", m.Tid()).Str("reply", m.String()).Msg("encoded reply")
	return nil
}

// writeReplyFile frames m into path, reporting the close error too.
func writeReplyFile(path string, appendTo bool, cfg session.Config, m *subopreply.Message) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if err := session.WriteReply(f, cfg, m); err != nil {
		f.Close()
		return fmt.Errorf("write reply: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode every reply frame in a capture file",
		ArgsUsage: "<frames.bin>",
		Flags: []cli.Flag{
			formatFlag(),
			metricsFlag(),
			&cli.UintFlag{
				Name:  "as-version",
				Usage: "decode as if the sender wrote this header version",
			},
		},
		Action: decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("frame path required", 1)
	}
	asVersion := c.Uint("as-version")
	if asVersion > math.MaxUint16 {
		return cli.Exit(fmt.Sprintf("--as-version %d above %d", asVersion, math.MaxUint16), 1)
	}
	cfg := appConfig(c)
	var views []subopreply.View
	err := eachReply(c.Args().First(), cfg.Session(), uint16(asVersion), func(m *subopreply.Message) error {
		views = append(views, m.View())
		return nil
	})
	if err != nil {
		return err
	}
	if err := render(c.App.Writer, c.String("format"), views); err != nil {
		return err
	}
	return writeMetrics(c)
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Track the request described by a TOML file and apply captured replies to it",
		ArgsUsage: "<request.toml> <frames.bin>",
		Flags: []cli.Flag{
			formatFlag(),
			metricsFlag(),
			&cli.StringFlag{
				Name:     "replicas",
				Usage:    "comma separated replica OSD ids, optionally osd(shard)",
				Required: true,
			},
		},
		Action: replayAction,
	}
}

type replayStep struct {
	Reply     string   `json:"reply" yaml:"reply"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
	Acked     bool     `json:"acked" yaml:"acked"`
	Committed bool     `json:"committed" yaml:"committed"`
	OnDisk    []string `json:"ondisk,omitempty" yaml:"ondisk,omitempty"`
}

func replayAction(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.Exit("request and frame paths required", 1)
	}
	cfg := appConfig(c)
	req, err := config.LoadRequest(c.Args().Get(0))
	if err != nil {
		return err
	}
	sub, err := req.SubOp()
	if err != nil {
		return err
	}
	replicas, err := parseReplicas(c.String("replicas"))
	if err != nil {
		return err
	}

	tracker := session.NewTracker()
	if err := tracker.Track(sub, replicas, time.Now()); err != nil {
		return err
	}
	var steps []replayStep
	err = eachReply(c.Args().Get(1), cfg.Session(), 0, func(m *subopreply.Message) error {
		step := replayStep{Reply: m.String()}
		p, err := tracker.Apply(m, time.Now())
		if err != nil {
			step.Error = err.Error()
			steps = append(steps, step)
			return nil
		}
		step.Acked = p.Acked()
		step.Committed = p.Committed()
		for shard, progress := range p.Replicas {
			if progress.OnDisk {
				step.OnDisk = append(step.OnDisk, shard.String())
			}
		}
		sort.Strings(step.OnDisk)
		steps = append(steps, step)
		return nil
	})
	if err != nil {
		return err
	}
	if err := render(c.App.Writer, c.String("format"), steps); err != nil {
		return err
	}
	return writeMetrics(c)
}

// eachReply decodes frames from path until EOF. A non-zero asVersion rewrites
// each header before decode.
func eachReply(path string, cfg session.Config, asVersion uint16, fn func(*subopreply.Message) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		if _, err := r.Peek(1); errors.Is(err, io.EOF) {
			return nil
		}
		fr, err := frame.ReadFrame(r, cfg.Frame)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if asVersion != 0 {
			fr.Header.HeadVersion = asVersion
		}
		m, err := session.DecodeReplyFrame(cfg, fr)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

func parseReplicas(raw string) ([]osd.PGShard, error) {
	var out []osd.PGShard
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		shard := osd.NoShard
		if id, rest, ok := strings.Cut(part, "("); ok {
			s, err := strconv.ParseInt(strings.TrimSuffix(rest, ")"), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("replica %q: %w", part, err)
			}
			shard = osd.ShardID(s)
			part = id
		}
		n, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("replica %q: %w", part, err)
		}
		out = append(out, osd.PGShard{OSD: int32(n), Shard: shard})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no replicas given")
	}
	return out, nil
}

func render(w io.Writer, format string, data any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format: %q (must be json or yaml)", format)
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Generate or validate configuration files",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write a config template",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Value: "node", Usage: "template kind (node, request)"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("path required", 1)
					}
					path := c.Args().First()
					if err := config.WriteTemplate(path, c.String("kind"), c.Bool("force")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "wrote %s template to %s\n", c.String("kind"), path)
					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "Validate a node config",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("path required", 1)
					}
					cfg, err := config.Load(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "valid: source=%s log=%s max_ops=%d max_payload=%d\n",
						cfg.Source, cfg.LogLevel, cfg.Codec.MaxOps, cfg.Frame.MaxPayloadBytes)
					return nil
				},
			},
		},
	}
}
