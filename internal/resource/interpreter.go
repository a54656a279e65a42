// File: internal/resource/interpreter.go

// Package resource prepares requests for the operations a sensor
// appliance declares and interprets what comes back. The request builder
// maps a descriptor plus a value bag onto query parameters, a JSON body,
// or a multipart form; the interpreter classifies each response by its
// schema tag and drives rendering, asynchronous-completion polling, and
// the interactive confirmation exchange.
package resource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sensorkit/sensorctl/internal/api"
	"github.com/sensorkit/sensorctl/internal/catalog"
)

// ErrOperationFailed signals that the server rejected the operation and
// the failure has already been reported on the error stream. The caller
// exits non-zero without printing anything further.
var ErrOperationFailed = errors.New("operation failed")

// Polling defaults: one poll per interval, and a budget of consecutive
// transient failures tolerated before the wait is abandoned.
const (
	defaultPollInterval = 1 * time.Second
	defaultRetryBudget  = 10
)

// Fetcher is the slice of the session the interpreter needs, small
// enough to substitute a test double.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts api.FetchOptions) (*api.Envelope, error)
}

// Options adjust one interpreter.
type Options struct {
	// RawJSON dumps the decoded body verbatim instead of schema-driven
	// rendering. The error path still takes precedence.
	RawJSON bool
	// NoWait returns the 202 response instead of polling for the
	// result.
	NoWait bool

	Out    io.Writer
	ErrOut io.Writer
	// In supplies the confirmation input.
	In io.Reader
	// Interactive enables the per-attempt progress marks while polling.
	Interactive bool

	PollInterval time.Duration
	RetryBudget  int
	Logger       *zap.Logger
}

// Interpreter runs the response handling state machine for one resource
// operation at a time:
//
//	Sent -> Classified -> {Success, Error, Pending, ConfirmationRequired}
//
// Pending loops back through the Location URL; ConfirmationRequired
// loops back through the server-supplied confirmation URL after
// interactive approval; Success and Error are terminal.
type Interpreter struct {
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger
}

// NewInterpreter builds an Interpreter around a session.
func NewInterpreter(f Fetcher, opts Options) *Interpreter {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.ErrOut == nil {
		opts.ErrOut = io.Discard
	}
	if opts.In == nil {
		opts.In = strings.NewReader("")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RetryBudget == 0 {
		opts.RetryBudget = defaultRetryBudget
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{fetcher: f, opts: opts, logger: logger.Named("resource")}
}

type state int

const (
	stateClassify state = iota
	statePending
	stateConfirm
)

// Process builds the request for a resource operation, executes it, and
// runs the response state machine until a terminal outcome. A declined
// confirmation returns nil: aborting is not an error. A server-side
// failure is reported on the error stream and returned as
// ErrOperationFailed; every other error is a fatal *api.Error.
func (in *Interpreter) Process(ctx context.Context, d *catalog.Descriptor, values map[string]any) error {
	req, err := Build(d, values)
	if err != nil {
		return err
	}

	env, err := in.fetcher.Fetch(ctx, req.URL, req.FetchOptions(api.TraceOperation))
	if err != nil {
		return err
	}

	st := stateClassify
	for {
		switch st {
		case stateClassify:
			if !env.Success() {
				in.reportError(d, env)
				return ErrOperationFailed
			}
			if env.Status == http.StatusAccepted && !in.opts.NoWait {
				if msg := d.ResponseMessage(env.Status, ""); msg != "" {
					fmt.Fprintln(in.opts.Out, msg)
				}
				st = statePending
				continue
			}
			if env.Schema == "confirmation" {
				st = stateConfirm
				continue
			}
			return in.renderSuccess(d, env)

		case statePending:
			next, err := in.poll(ctx, env)
			if err != nil {
				return err
			}
			env = next
			st = stateClassify

		case stateConfirm:
			confirmed, confirmURL, err := in.confirm(env)
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(in.opts.Out, "== Aborted")
				return nil
			}
			// Reissue the original request against the confirmation
			// URL, dropping the query parameters.
			reissue := *req
			reissue.URL = confirmURL
			reissue.Query = nil
			env, err = in.fetcher.Fetch(ctx, reissue.URL, reissue.FetchOptions(api.TraceOperation))
			if err != nil {
				return err
			}
			st = stateClassify
		}
	}
}

// poll drives the asynchronous-completion loop for a 202 response: sleep
// one interval, re-request the Location URL, and repeat until a terminal
// status shows up. A 502, or a transport failure, counts against the
// retry budget; the device is most likely just reconfiguring. While
// interactive, one progress mark is emitted per attempt: "." normally,
// "?" after a transient failure.
func (in *Interpreter) poll(ctx context.Context, env *api.Envelope) (*api.Envelope, error) {
	haveOutput := false
	updateLocation := true
	errorsLeft := in.opts.RetryBudget
	location := ""

	timer := time.NewTimer(in.opts.PollInterval)
	defer timer.Stop()

	for {
		timer.Reset(in.opts.PollInterval)
		select {
		case <-ctx.Done():
			// The interrupt must abort cleanly without leaving partial
			// output.
			if haveOutput {
				fmt.Fprintln(in.opts.Out)
			}
			return nil, api.NewError(api.KindTransport, "interrupted while waiting for result").WithCause(ctx.Err())
		case <-timer.C:
		}

		dot := "."

		if updateLocation {
			location = env.Location()
			if location == "" {
				return nil, api.NewError(api.KindFormat, "202 response from server did not have a location header")
			}
		}

		next, err := in.fetcher.Fetch(ctx, location, api.FetchOptions{Method: http.MethodGet})
		if err == nil && next.Status == http.StatusBadGateway {
			// Benign temporary outage, typically a device
			// reconfiguration; charge it as transient.
			err = api.NewError(api.KindServer, "bad gateway").WithStatus(next.Status)
		}

		if err != nil {
			errorsLeft--
			if errorsLeft < 0 {
				if haveOutput {
					fmt.Fprintln(in.opts.Out)
				}
				return nil, err
			}
			dot = "?"
			updateLocation = false
		} else if next.Status != http.StatusAccepted {
			if haveOutput {
				fmt.Fprintln(in.opts.Out)
			}
			return next, nil
		} else {
			env = next
			updateLocation = true
		}

		if in.opts.Interactive {
			fmt.Fprint(in.opts.Out, dot)
			haveOutput = true
		}
	}
}

// confirm displays the server's confirmation message and asks for a
// literal YES on a line of its own. Anything else declines.
func (in *Interpreter) confirm(env *api.Envelope) (bool, string, error) {
	data := env.BodyMap()
	msg, _ := data["message"].(string)
	confirmURL, _ := data["confirmation-url"].(string)
	if confirmURL == "" {
		return false, "", api.NewError(api.KindFormat, "confirmation response did not include a confirmation URL")
	}

	out := in.opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "== Confirmation required ==")
	fmt.Fprintln(out)
	fmt.Fprintln(out, msg)
	fmt.Fprintln(out)
	fmt.Fprint(out, "== To proceed, enter 'YES': ")

	line, err := bufio.NewReader(in.opts.In).ReadString('\n')
	if err != nil || line != "YES\n" {
		return false, "", nil
	}

	fmt.Fprintln(out, "== Confirmed, proceeding")
	fmt.Fprintln(out)
	return true, confirmURL, nil
}

// reportError composes and prints the failure message for a non-2xx
// response: title and description when present, then the descriptor's
// status-specific phrase, then a generic status line; always with a
// trailing period, and with any server diagnostics as an indented block.
func (in *Interpreter) reportError(d *catalog.Descriptor, env *api.Envelope) {
	data := env.BodyMap()
	title, _ := data["title"].(string)
	description, _ := data["description"].(string)
	diagnostics, _ := data["diagnostics"].(string)
	diagnostics = strings.TrimSpace(diagnostics)

	msg := d.ResponseMessage(env.Status, "")

	var errLine string
	switch {
	case title != "" && description != "":
		errLine = fmt.Sprintf("Error: %s. %s", title, description)
	case title != "":
		errLine = "Error: " + title
	case description != "":
		errLine = "Error: " + description
	case msg != "":
		errLine = "Error: " + msg
	default:
		errLine = fmt.Sprintf("Error: %d %s", env.Status, http.StatusText(env.Status))
	}

	if !strings.HasSuffix(errLine, ".") {
		errLine += "."
	}

	fmt.Fprintln(in.opts.ErrOut, errLine)

	if diagnostics != "" {
		fmt.Fprintln(in.opts.ErrOut, "\nDiagnostics:")
		for _, line := range strings.Split(diagnostics, "\n") {
			fmt.Fprintln(in.opts.ErrOut, "  "+line)
		}
		fmt.Fprintln(in.opts.ErrOut)
	}
}

// renderSuccess handles the terminal success state per the schema tag.
func (in *Interpreter) renderSuccess(d *catalog.Descriptor, env *api.Envelope) error {
	if in.opts.RawJSON {
		return in.dumpJSON(env.Body)
	}

	fieldsByName := d.ResponseFieldsByName()
	hidden := d.HiddenResponseFields()

	switch env.Schema {
	case "collection":
		list, ok := env.Body.([]any)
		if !ok {
			return api.NewError(api.KindFormat, "server sent a collection that's not a list")
		}
		if len(list) == 0 {
			fmt.Fprintln(in.opts.Out, "No entries.")
			return nil
		}

		first := true
		for _, entry := range list {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			block := renderObject(fieldsByName, obj, hidden)
			if block == "" {
				continue
			}
			if first {
				fmt.Fprintln(in.opts.Out)
				first = false
			}
			fmt.Fprintln(in.opts.Out, block)
		}
		return nil

	case "object":
		obj := env.BodyMap()
		if err := saveFiles(d.ResponseFields, obj, in.opts.Out); err != nil {
			return err
		}
		if block := renderObject(fieldsByName, obj, hidden); block != "" {
			fmt.Fprintln(in.opts.Out)
			fmt.Fprintln(in.opts.Out, block)
		}
		return nil

	case "object-raw":
		return in.dumpJSON(env.Body)

	default:
		fmt.Fprintln(in.opts.Out, d.ResponseMessage(env.Status, "Success."))
		return nil
	}
}

func (in *Interpreter) dumpJSON(body any) error {
	cfg := json.Config{SortMapKeys: true}.Froze()
	encoded, err := cfg.MarshalIndent(body, "", "  ")
	if err != nil {
		return api.NewError(api.KindFormat, "cannot encode response body").WithCause(err)
	}
	fmt.Fprintln(in.opts.Out, string(encoded))
	return nil
}
