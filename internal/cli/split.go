// Package cli separates the toolbox's own --at-* flags from the command line
// that is forwarded into the container.
package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ansible-toolbox/at/internal/buildspec"
	"github.com/ansible-toolbox/at/internal/containerspec"
)

// FlagPrefix marks every toolbox flag.
const FlagPrefix = "--at-"

const (
	flagHelp        = "--at-help"
	flagVersion     = "--at-version"
	flagVerbose     = "--at-verbose"
	flagInteractive = "--at-i"
	flagPackage     = "--at-add-py-package"
	flagVolume      = "--at-volume"
	flagEnv         = "--at-env"
)

// ErrMissingCommand is returned when no command follows the toolbox flags.
var ErrMissingCommand = errors.New("no command given; expected e.g. ansible-playbook playbook.yml")

// ArgumentError describes a malformed or unknown toolbox flag.
type ArgumentError struct {
	Flag  string
	Value string
	Err   error
}

func (e *ArgumentError) Error() string {
	switch {
	case e.Flag == "":
		return e.Err.Error()
	case e.Value == "":
		return fmt.Sprintf("%s: %v", e.Flag, e.Err)
	default:
		return fmt.Sprintf("%s %q: %v", e.Flag, e.Value, e.Err)
	}
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Options are the toolbox flags of one invocation. Each repeatable kind is
// deduplicated, keeping the first occurrence.
type Options struct {
	Help        bool
	Version     bool
	Verbose     bool
	Interactive bool
	Packages    []string
	Volumes     []containerspec.Mount
	Env         []containerspec.EnvVar
}

// Invocation is the split form of the raw argument vector.
type Invocation struct {
	Options Options
	// Command is forwarded to the container verbatim.
	Command []string
}

type scanState int

const (
	scanningFlags scanState = iota
	passthrough
)

type splitter struct {
	state    scanState
	inv      Invocation
	packages map[string]struct{}
	volumes  map[containerspec.Mount]struct{}
	env      map[string]struct{}
}

// Split scans args left to right. Toolbox flags are consumed until the first
// token that is not one; that token and everything after it become the
// command, unchanged. --at-help and --at-version stop the scan and do not
// require a command.
func Split(args []string) (Invocation, error) {
	s := &splitter{
		packages: make(map[string]struct{}),
		volumes:  make(map[containerspec.Mount]struct{}),
		env:      make(map[string]struct{}),
	}
	for i := 0; i < len(args) && s.state == scanningFlags; i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, FlagPrefix) {
			s.inv.Command = append([]string(nil), args[i:]...)
			s.state = passthrough
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case flagHelp, flagVersion, flagVerbose, flagInteractive:
			if hasValue {
				return Invocation{}, &ArgumentError{Flag: name, Err: errors.New("does not take a value")}
			}
			switch name {
			case flagHelp:
				s.inv.Options.Help = true
				return s.inv, nil
			case flagVersion:
				s.inv.Options.Version = true
				return s.inv, nil
			case flagVerbose:
				s.inv.Options.Verbose = true
			case flagInteractive:
				s.inv.Options.Interactive = true
			}
		case flagPackage, flagVolume, flagEnv:
			if !hasValue {
				if i+1 >= len(args) {
					return Invocation{}, &ArgumentError{Flag: name, Err: errors.New("missing argument")}
				}
				i++
				value = args[i]
			}
			if err := s.addOperand(name, value); err != nil {
				return Invocation{}, &ArgumentError{Flag: name, Value: value, Err: err}
			}
		default:
			return Invocation{}, &ArgumentError{Flag: name, Err: errors.New("unknown toolbox flag")}
		}
	}

	if len(s.inv.Command) == 0 {
		return Invocation{}, &ArgumentError{Err: ErrMissingCommand}
	}
	return s.inv, nil
}

func (s *splitter) addOperand(flag, value string) error {
	switch flag {
	case flagPackage:
		pkg := strings.TrimSpace(value)
		if err := buildspec.ValidatePackage(pkg); err != nil {
			return err
		}
		if _, dup := s.packages[pkg]; dup {
			return nil
		}
		s.packages[pkg] = struct{}{}
		s.inv.Options.Packages = append(s.inv.Options.Packages, pkg)
	case flagVolume:
		m, err := containerspec.ParseMount(value)
		if err != nil {
			return err
		}
		if _, dup := s.volumes[m]; dup {
			return nil
		}
		if err := containerspec.CheckTargets(append(slices.Clip(s.inv.Options.Volumes), m)); err != nil {
			return err
		}
		s.volumes[m] = struct{}{}
		s.inv.Options.Volumes = append(s.inv.Options.Volumes, m)
	case flagEnv:
		e, err := containerspec.ParseEnv(value)
		if err != nil {
			return err
		}
		if _, dup := s.env[value]; dup {
			return nil
		}
		s.env[value] = struct{}{}
		s.inv.Options.Env = append(s.inv.Options.Env, e)
	}
	return nil
}
