// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Sentinel errors for inbound commands
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgs        = errors.New("bad command arguments")
	ErrLineTooLong    = errors.New("command line too long")
)

// Code is the single command letter
type Code byte

// Command codes
const (
	CmdParamWrite       Code = 'P'
	CmdUpdateComplete   Code = 'U'
	CmdQuit             Code = 'Q'
	CmdGo               Code = 'G'
	CmdChrimsonRequest  Code = 'R'
	CmdChr2Request      Code = 'B'
	CmdLadderStart      Code = 'L'
	CmdDualTagStart     Code = 'T'
	CmdPhotometryToggle Code = 'F'
	CmdAnalogWrite      Code = 'A'
	CmdReset            Code = 'X'
	CmdCancel           Code = 'K'
	CmdHelp             Code = 'H'
)

// CommandInfo describes one entry of the command table
type CommandInfo struct {
	Code        Code
	Name        string
	Args        int
	Usage       string
	Description string
}

// Commands is the inbound command table
var Commands = []CommandInfo{
	{CmdParamWrite, "param-write", 2, "P <id> <value>", "Write a parameter and enter the update state"},
	{CmdUpdateComplete, "update-complete", 0, "U", "Leave the update state and resume"},
	{CmdQuit, "quit", 0, "Q", "Abort the experiment or session and return to idle"},
	{CmdGo, "go", 0, "G", "Start an experiment"},
	{CmdChrimsonRequest, "chrimson-request", 0, "R", "Deliver one Chrimson train"},
	{CmdChr2Request, "chr2-request", 0, "B", "Deliver one ChR2 train"},
	{CmdLadderStart, "ladder-start", 0, "L", "Run the opto ladder program"},
	{CmdDualTagStart, "dual-tag-start", 0, "T", "Run the dual-channel tag program"},
	{CmdPhotometryToggle, "photometry-toggle", 0, "F", "Toggle the photometry LED"},
	{CmdAnalogWrite, "analog-write", 2, "A <channel> <level>", "Set a DAC output level from any state"},
	{CmdReset, "reset", 0, "X", "Restart the controller"},
	{CmdCancel, "cancel", 0, "K", "Cancel the running session"},
	{CmdHelp, "help", 0, "H", "List commands"},
}

// Lookup returns the table entry for code
func Lookup(code Code) (CommandInfo, bool) {
	for _, c := range Commands {
		if c.Code == code {
			return c, true
		}
	}
	return CommandInfo{}, false
}

// LookupName returns the table entry whose name or letter is s
func LookupName(s string) (CommandInfo, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		return Lookup(Code(strings.ToUpper(s)[0]))
	}
	s = strings.ToLower(s)
	for _, c := range Commands {
		if c.Name == s {
			return c, true
		}
	}
	return CommandInfo{}, false
}

func (c Code) String() string {
	if info, ok := Lookup(c); ok {
		return info.Name
	}
	return fmt.Sprintf("cmd(%q)", byte(c))
}

// Command is one decoded inbound command
type Command struct {
	Code Code
	Args [2]int
}

// NewCommand builds a command, checking arity against the table
func NewCommand(code Code, args ...int) (Command, error) {
	info, ok := Lookup(code)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, byte(code))
	}
	if len(args) != info.Args {
		return Command{}, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArgs, info.Name, info.Args, len(args))
	}
	cmd := Command{Code: code}
	copy(cmd.Args[:], args)
	return cmd, nil
}

func (c Command) String() string {
	return strings.TrimSuffix(string(EncodeCommand(c)), "\n")
}

// ParseCommand decodes one command line without its terminator
func ParseCommand(line string) (Command, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	if len(fields[0]) != 1 {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}

	code := Code(strings.ToUpper(fields[0])[0])
	info, ok := Lookup(code)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}

	args := fields[1:]
	if len(args) != info.Args {
		return Command{}, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArgs, info.Name, info.Args, len(args))
	}

	cmd := Command{Code: code}
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s argument %d %q is not an integer", ErrBadArgs, info.Name, i, a)
		}
		cmd.Args[i] = n
	}
	return cmd, nil
}

// EncodeCommand renders cmd as a terminated command line
func EncodeCommand(cmd Command) []byte {
	info, ok := Lookup(cmd.Code)
	n := 0
	if ok {
		n = info.Args
	}

	var b strings.Builder
	b.WriteByte(byte(cmd.Code))
	for i := 0; i < n; i++ {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(cmd.Args[i]))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// CommandDecoder assembles inbound bytes into commands
type CommandDecoder struct {
	line     []byte
	overflow bool
}

// NewCommandDecoder creates a new command decoder
func NewCommandDecoder() *CommandDecoder {
	return &CommandDecoder{line: make([]byte, 0, MaxLineSize)}
}

// Reset discards any partial line
func (d *CommandDecoder) Reset() {
	d.line = d.line[:0]
	d.overflow = false
}

// DecodeByte processes one byte. It returns a command when b terminates a valid
// line, an error when it terminates an invalid one, and nil, nil otherwise.
// An overlong line is reported once at its terminator and discarded.
func (d *CommandDecoder) DecodeByte(b byte) (*Command, error) {
	switch b {
	case '\r':
		return nil, nil
	case '\n':
		defer d.Reset()
		if d.overflow {
			return nil, fmt.Errorf("%w: max %d bytes", ErrLineTooLong, MaxLineSize)
		}
		if len(strings.TrimSpace(string(d.line))) == 0 {
			return nil, nil
		}
		cmd, err := ParseCommand(string(d.line))
		if err != nil {
			return nil, err
		}
		return &cmd, nil
	}

	if d.overflow {
		return nil, nil
	}
	if len(d.line) >= MaxLineSize {
		d.overflow = true
		return nil, nil
	}
	d.line = append(d.line, b)
	return nil, nil
}
