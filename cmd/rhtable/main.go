// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// rhtable reads and writes a persistent robin-hood hash table mapping string
// keys to uint64 values.
//
// Usage:
//
//	rhtable [--config file] [--path file] set KEY VALUE
//	rhtable [--config file] [--path file] get KEY
//	rhtable [--config file] [--path file] remove KEY
//	rhtable [--config file] [--path file] items
//	rhtable [--config file] [--path file] dump
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/robinhood"
	"github.com/jessevdk/go-flags"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage: rhtable [--config file] [--path file] set|get|remove|items|dump [args]")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOptions are accepted before or after the command name.
type globalOptions struct {
	Config string `short:"c" long:"config" description:"YAML config file"`
	Path   string `short:"p" long:"path" description:"table file, overrides the config"`

	stdout, stderr io.Writer
}

type Set struct{ opts *globalOptions }
type Get struct{ opts *globalOptions }
type Remove struct{ opts *globalOptions }
type Items struct{ opts *globalOptions }
type Dump struct{ opts *globalOptions }

func run(args []string, stdout, stderr io.Writer) error {
	opts := &globalOptions{stdout: stdout, stderr: stderr}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "rhtable"

	for _, c := range []struct {
		name, short, long string
		data              interface{}
	}{
		{"set", "set a key", "The set command stores VALUE under KEY, replacing any previous value", &Set{opts}},
		{"get", "print the value of a key", "The get command prints the value stored under KEY", &Get{opts}},
		{"remove", "remove a key", "The remove command deletes KEY; removing an absent key is a no-op", &Remove{opts}},
		{"items", "list all entries", "The items command prints every entry in slot order", &Items{opts}},
		{"dump", "print every slot", "The dump command prints each slot with its ideal position and displacement", &Dump{opts}},
	} {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return err
		}
	}

	_, err := parser.ParseArgs(args)
	var ferr *flags.Error
	if errors.As(err, &ferr) {
		switch ferr.Type {
		case flags.ErrHelp:
			_, err = fmt.Fprintln(stdout, ferr.Message)
			return err
		case flags.ErrCommandRequired, flags.ErrUnknownCommand, flags.ErrUnknownFlag, flags.ErrExpectedArgument:
			fmt.Fprintln(stderr, ferr.Message)
			return errUsage
		}
	}
	return err
}

func (x *Set) Execute(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	return x.opts.withTable(func(t *table) error { return t.set(args[0], args[1]) })
}

func (x *Get) Execute(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return x.opts.withTable(func(t *table) error { return t.get(args[0], x.opts.stdout) })
}

func (x *Remove) Execute(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return x.opts.withTable(func(t *table) error { return t.remove(args[0]) })
}

func (x *Items) Execute(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return x.opts.withTable(func(t *table) error { return t.items(x.opts.stdout) })
}

func (x *Dump) Execute(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return x.opts.withTable(func(t *table) error {
		_, err := io.WriteString(x.opts.stdout, t.m.DebugString())
		return err
	})
}

// withTable loads the configuration, opens the table and runs fn against
// it. The table file is closed before returning.
func (o *globalOptions) withTable(fn func(t *table) error) (err error) {
	cfg := DefaultConfig()
	if o.Config != "" {
		if cfg, err = FromFile(o.Config); err != nil {
			return err
		}
	}
	if o.Path != "" {
		cfg.Path = o.Path
	}

	logger := newLogger(cfg.LogLevel, o.stderr)
	defer func() { _ = logger.Sync() }()

	t, err := openTable(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, t.Close())
	}()
	return fn(t)
}

// table is a Map of string keys to uint64 values stored in a file.
type table struct {
	m        *robinhood.Map[string, uint64]
	file     *robinhood.FileStore
	keyWidth int
	logger   *zap.Logger
}

func openTable(cfg *Config, logger *zap.Logger) (*table, error) {
	hash, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	file, err := robinhood.OpenFile(cfg.Path)
	if err != nil {
		return nil, err
	}

	format := robinhood.NewItemFormat[string, uint64](
		robinhood.Tagged[string](robinhood.StringFormat{Width: cfg.KeyWidth}),
		robinhood.Uint64Format{})
	persistent, err := robinhood.NewPersistentStorage(file, format)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to open table %s: %w", cfg.Path, err), file.Close())
	}

	var storage robinhood.Storage[string, uint64] = persistent
	if cfg.CacheSlots > 0 {
		storage = robinhood.NewCachedStorage[string, uint64](persistent, cfg.CacheSlots)
	}

	m, err := robinhood.New[string, uint64](storage, hash,
		robinhood.WithLogger[string, uint64](logger))
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}
	logger.Debug("opened table file",
		zap.String("path", cfg.Path), zap.Int("entries", m.Len()), zap.Int("shift", m.Shift()))
	return &table{m: m, file: file, keyWidth: cfg.KeyWidth, logger: logger}, nil
}

func (t *table) Close() error {
	return t.file.Close()
}

func (t *table) set(key, value string) error {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.m.Set(key, v); err != nil {
		return err
	}
	t.logger.Info("set", zap.String("key", key), zap.Uint64("value", v))
	return nil
}

func (t *table) get(key string, w io.Writer) error {
	v, ok, err := t.m.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q not found", key)
	}
	_, err = fmt.Fprintln(w, v)
	return err
}

func (t *table) remove(key string) error {
	if err := t.m.Remove(key); err != nil {
		return err
	}
	t.logger.Info("removed", zap.String("key", key))
	return nil
}

func (t *table) items(w io.Writer) error {
	var werr error
	err := t.m.All(func(k string, v uint64) bool {
		_, werr = fmt.Fprintf(w, "%s\t%d\n", k, v)
		return werr == nil
	})
	return multierr.Append(err, werr)
}

// checkKey rejects keys the fixed-width key format cannot represent, which
// would otherwise panic.
func (t *table) checkKey(key string) error {
	if len(key) > t.keyWidth {
		return fmt.Errorf("key %q is longer than %d bytes", key, t.keyWidth)
	}
	if strings.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("key %q contains NUL", key)
	}
	return nil
}
