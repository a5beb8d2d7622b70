package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/blang/semver"

	"github.com/janelia-flyem/tiled/tiled"
)

// DefaultTimeout bounds every codec invocation when no timeout is configured.
const DefaultTimeout = 60 * time.Second

func init() {
	RegisterEngine(Engine{
		Name:        "exec",
		Description: "External codec program driven by argument templates",
		Version:     semver.MustParse("1.0.0"),
		New: func(c tiled.Config) (Codec, error) {
			config, err := ExecConfigFrom(c)
			if err != nil {
				return nil, err
			}
			return NewExec(config)
		},
	})
}

// ExecConfig configures an external codec.  Each element of Compress and Extract
// is a text/template rendering one argument; arguments that render empty are
// dropped, so optional flags can be written as {{if .Region}}-region{{end}}.
//
// Compress templates see Input, Output, Levels, Layers and Reversible.  Extract
// templates see Input, Level, Region, Scale, Rotation, Layer and MimeType, and the
// program must write the rendered image to stdout.
type ExecConfig struct {
	Compress []string
	Extract  []string
	Timeout  time.Duration
}

// ExecConfigFrom reads "compress", "extract" and "timeout" settings.
func ExecConfigFrom(c tiled.Config) (ExecConfig, error) {
	var config ExecConfig
	var err error
	if config.Compress, _, err = c.GetStrings("compress"); err != nil {
		return config, err
	}
	if config.Extract, _, err = c.GetStrings("extract"); err != nil {
		return config, err
	}
	s, found, err := c.GetString("timeout")
	if err != nil {
		return config, err
	}
	if found {
		if config.Timeout, err = time.ParseDuration(s); err != nil {
			return config, fmt.Errorf("bad codec timeout %q: %v", s, err)
		}
	}
	return config, nil
}

// Exec is a Codec that runs an external program for each operation.
type Exec struct {
	compress []*template.Template
	extract  []*template.Template
	timeout  time.Duration
}

// NewExec parses the argument templates of an external codec.
func NewExec(config ExecConfig) (*Exec, error) {
	if len(config.Compress) == 0 || len(config.Extract) == 0 {
		return nil, fmt.Errorf("external codec needs both compress and extract commands")
	}
	e := &Exec{timeout: config.Timeout}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	var err error
	if e.compress, err = parseArgs("compress", config.Compress); err != nil {
		return nil, err
	}
	if e.extract, err = parseArgs("extract", config.Extract); err != nil {
		return nil, err
	}
	return e, nil
}

func parseArgs(name string, args []string) ([]*template.Template, error) {
	tmpls := make([]*template.Template, len(args))
	for i, arg := range args {
		t, err := template.New(fmt.Sprintf("%s-%d", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("bad %s argument %q: %v", name, arg, err)
		}
		tmpls[i] = t
	}
	return tmpls, nil
}

func renderArgs(tmpls []*template.Template, data interface{}) ([]string, error) {
	args := make([]string, 0, len(tmpls))
	for _, t := range tmpls {
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return nil, err
		}
		if b.Len() > 0 {
			args = append(args, b.String())
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("codec command renders to nothing")
	}
	return args, nil
}

type compressArgs struct {
	Input, Output string
	EncodeParams
}

type extractArgs struct {
	Input    string
	MimeType string
	DecodeParams
}

// Compress runs the compress command and checks that a non-empty master results.
func (e *Exec) Compress(ctx context.Context, in, out string, p EncodeParams) error {
	if err := checkInput(in); err != nil {
		return err
	}
	args, err := renderArgs(e.compress, compressArgs{Input: in, Output: out, EncodeParams: p})
	if err != nil {
		return tiled.WrapError(tiled.Unexpected, err, "can't build compress command")
	}
	timedLog := tiled.NewTimeLog()
	if err := e.run(ctx, args, nil); err != nil {
		return err
	}
	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		return tiled.NewError(tiled.CodecFormat, "codec produced no output for %s", in)
	}
	timedLog.Debugf("Compressed %s into %s", in, out)
	return nil
}

// Extract runs the extract command, streaming its stdout into w.
func (e *Exec) Extract(ctx context.Context, in string, w io.Writer, p DecodeParams, mimeType string) error {
	if err := checkInput(in); err != nil {
		return err
	}
	args, err := renderArgs(e.extract, extractArgs{Input: in, MimeType: mimeType, DecodeParams: p})
	if err != nil {
		return tiled.WrapError(tiled.Unexpected, err, "can't build extract command")
	}
	return e.run(ctx, args, w)
}

// Metadata reads the master's header directly rather than running the codec.
func (e *Exec) Metadata(ctx context.Context, in string) (Metadata, error) {
	return ReadJP2HeaderFile(in)
}

func checkInput(in string) error {
	fi, err := os.Stat(in)
	if err != nil {
		return tiled.WrapError(tiled.CodecIO, err, "codec input unavailable")
	}
	if fi.IsDir() {
		return tiled.NewError(tiled.CodecIO, "codec input %s is a directory", in)
	}
	return nil
}

func (e *Exec) run(ctx context.Context, args []string, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tiled.WrapError(tiled.CodecTimeout, ctx.Err(), "%s ran longer than %s", args[0], e.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return tiled.WrapError(tiled.CodecFormat, err, "%s failed: %s", args[0], msg)
	}
	return tiled.WrapError(tiled.CodecIO, err, "can't run %s", args[0])
}
