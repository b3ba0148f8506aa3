package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand is returned by ParseCommand for frames that are not
// a non-empty array of strings.
var ErrInvalidCommand = errors.New("invalid command format")

// Command is a command invocation carried by an array frame
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand extracts a Command from an array of bulk or simple strings.
// The name is upper-cased.
func ParseCommand(f Frame) (*Command, error) {
	if f.Kind() != KindArray || f.Len() == 0 {
		return nil, ErrInvalidCommand
	}

	items := f.Items()
	cmd := &Command{
		Args: make([][]byte, len(items)-1),
	}
	for i, item := range items {
		if k := item.Kind(); k != KindBulkString && k != KindSimpleString {
			return nil, fmt.Errorf("%w: argument %d is a %s", ErrInvalidCommand, i, k)
		}
		if i == 0 {
			cmd.Name = strings.ToUpper(item.Text())
			continue
		}
		cmd.Args[i-1] = item.Bytes()
	}
	return cmd, nil
}

// Frame returns the command as an array of bulk strings
func (c *Command) Frame() Frame {
	items := make([]Frame, 0, 1+len(c.Args))
	items = append(items, BulkString(c.Name))
	for _, arg := range c.Args {
		items = append(items, BulkBytes(arg))
	}
	return Array(items...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}
