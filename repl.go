package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mrdg/hive/dub"
	"github.com/mrdg/hive/hub"
	"github.com/mrdg/hive/scale"
	"github.com/mrdg/hive/state"
)

// console runs admin commands against a running hub.
type console struct {
	hub    *hub.Hub
	scales *scale.Table
	out    io.Writer
	bpm    float64 // tempo of saved recordings
}

// eval runs every command in input, stopping at the first error.
func (c *console) eval(input string) error {
	cmds, err := dub.ParseScript(input)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := c.exec(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *console) exec(command dub.Command) error {
	name := string(command.Name)
	for _, cmd := range commands {
		if name != cmd.name {
			continue
		}
		if cmd.arity < 0 {
			arity := -cmd.arity
			if len(command.Args) < arity {
				return fmt.Errorf("%s: wrong number of arguments: need at least %v, got %v",
					cmd.name, arity, len(command.Args))
			}
			if cmd.maxArgs > 0 && len(command.Args) > cmd.maxArgs {
				return fmt.Errorf("%s: wrong number of arguments: need at most %v, got %v",
					cmd.name, cmd.maxArgs, len(command.Args))
			}
		} else if len(command.Args) != cmd.arity {
			return fmt.Errorf("%s: wrong number of arguments: want %v, got %v",
				cmd.name, cmd.arity, len(command.Args))
		}
		if err := cmd.run(c, command.Args); err != nil {
			return fmt.Errorf("%s error: %w", cmd.name, err)
		}
		return nil
	}
	return fmt.Errorf("unknown command: %s", name)
}

func (c *console) runScript(path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := c.eval(string(script)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *console) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, cmd := range commands {
		var args []readline.PrefixCompleterInterface
		switch cmd.name {
		case "scale":
			args = append(args, readline.PcItemDynamic(func(string) []string { return c.scales.Names() }))
		case "preset":
			args = append(args, readline.PcItemDynamic(func(string) []string { return state.PresetNames() }))
		case "set":
			args = append(args, readline.PcItemDynamic(func(string) []string { return c.paramKeys() }))
		case "autonote", "drift":
			args = append(args, readline.PcItem("on"), readline.PcItem("off"))
		}
		items = append(items, readline.PcItem(cmd.name, args...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (c *console) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hive> ",
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	c.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			fmt.Fprintln(c.out, err)
			continue
		}
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		if err := c.eval(line); err != nil {
			fmt.Fprintln(c.out, err)
		}
	}
}
