package main

import (
	"errors"
	"fmt"

	"github.com/mrdg/hive/auto"
	"github.com/mrdg/hive/dub"
	"github.com/mrdg/hive/state"
)

const (
	waveSampleRate = 44100
	waveCycles     = 1
)

type command struct {
	name    string
	usage   string
	help    string
	run     func(*console, []dub.Node) error
	arity   int // -n means len(args) must be >= n
	maxArgs int // upper bound when arity is negative, 0 means none
}

var commands []command

func init() {
	// help renders the table itself, so it can't be part of the initializer.
	commands = []command{
		{name: "state", help: "show the shared state", run: stateCommand},
		{name: "sessions", help: "list connected sessions", run: sessionsCommand},
		{name: "scales", help: "list the available scales", run: scalesCommand},
		{name: "scale", usage: "NAME", help: "switch scale", run: scaleCommand, arity: 1},
		{name: "set", usage: "KEY VALUE", help: "set a parameter", run: setCommand, arity: 2},
		{name: "autonote", usage: "on|off [SPEED]", help: "toggle autonomous notes", run: autoNoteCommand, arity: -1, maxArgs: 2},
		{name: "drift", usage: "on|off [walk|osc]", help: "toggle parameter drift", run: driftCommand, arity: -1, maxArgs: 2},
		{name: "preset", usage: "NAME", help: "apply a preset", run: presetCommand, arity: 1},
		{name: "presets", help: "list presets", run: presetsCommand},
		{name: "load-wave", usage: `"FILE"`, help: "load the waveform from a WAV file", run: loadWaveCommand, arity: 1},
		{name: "save-wave", usage: `"FILE" [CYCLES]`, help: "write the waveform to a WAV file", run: saveWaveCommand, arity: -1, maxArgs: 2},
		{name: "record", help: "start recording notes", run: recordCommand},
		{name: "save-record", usage: `"FILE" [BPM]`, help: "stop recording and write a MIDI file", run: saveRecordCommand, arity: -1, maxArgs: 2},
		{name: "help", help: "show this help", run: helpCommand},
	}
}

func stateCommand(c *console, args []dub.Node) error {
	status, err := c.hub.Status()
	if err != nil {
		return err
	}
	return render(c.out, "state.tmpl", status)
}

func sessionsCommand(c *console, args []dub.Node) error {
	status, err := c.hub.Status()
	if err != nil {
		return err
	}
	return render(c.out, "sessions.tmpl", status.Users)
}

func scalesCommand(c *console, args []dub.Node) error {
	type row struct {
		Name    string
		Pitches []string
	}
	var rows []row
	for _, name := range c.scales.Names() {
		pitches, _ := c.scales.Pitches(name)
		rows = append(rows, row{name, pitches})
	}
	return render(c.out, "scales.tmpl", rows)
}

func scaleCommand(c *console, args []dub.Node) error {
	var name string
	if err := readArgs(args, &name); err != nil {
		return err
	}
	return c.hub.SetScale(name)
}

func setCommand(c *console, args []dub.Node) error {
	var key string
	var value float64
	if err := readArgs(args, &key, &value); err != nil {
		return err
	}
	stored, err := c.hub.SetParam(key, value)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %v\n", key, stored)
	return nil
}

func autoNoteCommand(c *console, args []dub.Node) error {
	var on bool
	speed := -1
	if err := readArgs(args, &on, &speed); err != nil {
		return err
	}
	return c.hub.SetAutoNote(on, speed)
}

func driftCommand(c *console, args []dub.Node) error {
	var on bool
	var name string
	if err := readArgs(args, &on, &name); err != nil {
		return err
	}
	var strategy auto.Strategy
	if name != "" {
		s, err := auto.ParseStrategy(name)
		if err != nil {
			return err
		}
		strategy = s
	}
	return c.hub.SetAutoDrift(on, strategy)
}

func presetCommand(c *console, args []dub.Node) error {
	var name string
	if err := readArgs(args, &name); err != nil {
		return err
	}
	return c.hub.ApplyPreset(name)
}

func presetsCommand(c *console, args []dub.Node) error {
	type row struct {
		Name   string
		Preset state.Preset
	}
	var rows []row
	for _, name := range state.PresetNames() {
		rows = append(rows, row{name, state.Presets[name]})
	}
	return render(c.out, "presets.tmpl", rows)
}

func loadWaveCommand(c *console, args []dub.Node) error {
	var file string
	if err := readArgs(args, &file); err != nil {
		return err
	}
	wave, err := state.LoadWaveform(file)
	if err != nil {
		return err
	}
	return c.hub.SetWaveform(wave)
}

func saveWaveCommand(c *console, args []dub.Node) error {
	var file string
	cycles := waveCycles
	if err := readArgs(args, &file, &cycles); err != nil {
		return err
	}
	if cycles <= 0 {
		return fmt.Errorf("cycles must be positive: %v", cycles)
	}
	wave, err := c.hub.Waveform()
	if err != nil {
		return err
	}
	return state.WriteWaveform(file, wave, cycles, waveSampleRate)
}

func recordCommand(c *console, args []dub.Node) error {
	if err := c.hub.StartRecording(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "recording")
	return nil
}

func saveRecordCommand(c *console, args []dub.Node) error {
	var file string
	bpm := c.bpm
	if err := readArgs(args, &file, &bpm); err != nil {
		return err
	}
	n, err := c.hub.SaveRecording(file, bpm)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %d notes to %s\n", n, file)
	return nil
}

func helpCommand(c *console, args []dub.Node) error {
	type row struct {
		Name, Usage, Help string
	}
	var rows []row
	for _, cmd := range commands {
		rows = append(rows, row{cmd.name, cmd.usage, cmd.help})
	}
	return render(c.out, "help.tmpl", rows)
}

// paramKeys lists the parameters registered with the running hub.
func (c *console) paramKeys() []string {
	keys, err := c.hub.ParamKeys()
	if err != nil {
		return nil
	}
	return keys
}

// readArgs copies args into slots. Slots without a matching argument keep
// their value, so trailing slots act as optional arguments.
func readArgs(args []dub.Node, slots ...interface{}) error {
	if len(args) > len(slots) {
		return errors.New("too many arguments")
	}
	for n, arg := range args {
		dest := slots[n]
		switch p := dest.(type) {
		case *string:
			switch s := arg.(type) {
			case dub.String:
				*p = string(s)
			case dub.Identifier:
				*p = string(s)
			default:
				return fmt.Errorf("argument error: expected a string or identifier")
			}
		case *float64:
			n, ok := dub.Number(arg)
			if !ok {
				return fmt.Errorf("argument error: expected a number")
			}
			*p = n
		case *int:
			n, ok := arg.(dub.Int)
			if !ok {
				return fmt.Errorf("argument error: expected an integer")
			}
			*p = int(n)
		case *bool:
			id, _ := arg.(dub.Identifier)
			switch id {
			case "on":
				*p = true
			case "off":
				*p = false
			default:
				return fmt.Errorf("argument error: expected on or off")
			}
		default:
			panic("readArgs: unhandled destination type: " + fmt.Sprint(p))
		}
	}
	return nil
}
