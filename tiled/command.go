package tiled

import "strings"

// Command supports command-line interaction with tiled.  The first item in the
// string slice is the command, e.g., "serve" or "plan", and the remaining are
// positional arguments or "key=value" settings.
type Command []string

func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Setting scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Setting(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 && elems[0] == key {
				return elems[1], true
			}
		}
	}
	return "", false
}

// CommandArgs sets a variadic argument set of string pointers to the positional
// arguments after the command name, ignoring "key=value" settings.  If there aren't
// enough arguments to set a target, the target is set to the empty string.  It
// returns an 'overflow' slice that has all arguments beyond those needed for targets.
func (cmd Command) CommandArgs(targets ...*string) (overflow []string) {
	for _, target := range targets {
		*target = ""
	}
	if len(cmd) < 2 {
		return nil
	}
	var curTarget int
	for _, arg := range cmd[1:] {
		if strings.Contains(arg, "=") {
			continue
		}
		if curTarget >= len(targets) {
			overflow = append(overflow, arg)
		} else {
			*(targets[curTarget]) = arg
		}
		curTarget++
	}
	return
}
