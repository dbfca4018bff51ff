package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/observability"
)

var errNotConfirmed = errors.New("submission was not confirmed")

// runOptions are the flags of the run command.
type runOptions struct {
	AccountID       string
	TargetURL       string
	Fields          []string
	SubmitSelector  string
	SuccessURL      string
	SuccessMessage  string
	SuccessSelector string
	SimulateHuman   bool
	Screenshots     bool
	UserAgent       string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Processes a single submission in the foreground and prints the result",
		Example: `  formrunner run --account acct1 --target https://shop.example.com/checkout \
    --field email=ana@example.com --field name="Ana Souza" --field terms=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			task, err := buildRunTask(cfg, opts, time.Now())
			if err != nil {
				return err
			}

			components, err := initializeComponents(cmd.Context(), cfg, logger, false)
			if components != nil {
				defer components.Shutdown(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			logger.Info("Running task", zap.String("session_id", task.SessionID), zap.String("target_url", task.TargetURL))
			result, err := components.Orchestrator.Process(cmd.Context(), task, nil)
			if err != nil {
				return fmt.Errorf("task failed: %w", err)
			}
			if err := writeResult(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errNotConfirmed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.AccountID, "account", "a", "", "account id the submission belongs to (required)")
	f.StringVarP(&opts.TargetURL, "target", "t", "", "page to open (defaults to defaults.target_url)")
	f.StringArrayVarP(&opts.Fields, "field", "f", nil, "form field as key=value; true and false become booleans (repeatable)")
	f.StringVar(&opts.SubmitSelector, "submit-selector", "", "CSS selector of the submit control")
	f.StringVar(&opts.SuccessURL, "success-url", "", "URL fragment that marks a successful submission")
	f.StringVar(&opts.SuccessMessage, "success-message", "", "text that marks a successful submission")
	f.StringVar(&opts.SuccessSelector, "success-selector", "", "element that marks a successful submission")
	f.BoolVar(&opts.SimulateHuman, "simulate-human", true, "move, type and pause like a person")
	f.BoolVar(&opts.Screenshots, "screenshots", true, "capture screenshots at each stage")
	f.StringVar(&opts.UserAgent, "user-agent", "", "user agent override")
	f.Bool("headless", true, "run the browser headless")
	bindFlag(cmd, "headless", "browser.headless")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// buildRunTask turns run flags into a validated task.
func buildRunTask(cfg config.Interface, opts runOptions, now time.Time) (schemas.Task, error) {
	formData, err := parseFields(opts.Fields)
	if err != nil {
		return schemas.Task{}, err
	}

	task := schemas.Task{
		AccountID:      strings.TrimSpace(opts.AccountID),
		FormData:       formData,
		TargetURL:      strings.TrimSpace(opts.TargetURL),
		SubmitSelector: strings.TrimSpace(opts.SubmitSelector),
		SuccessIndicators: schemas.SuccessIndicators{
			URL:      opts.SuccessURL,
			Message:  opts.SuccessMessage,
			Selector: opts.SuccessSelector,
		},
		Options: schemas.TaskOptions{
			SimulateHuman:   opts.SimulateHuman,
			TakeScreenshots: opts.Screenshots,
			UserAgent:       strings.TrimSpace(opts.UserAgent),
		},
		CreatedAt: now.UTC(),
	}
	if task.TargetURL == "" {
		task.TargetURL = cfg.Defaults().TargetURL
	}
	if task.SubmitSelector == "" {
		task.SubmitSelector = cfg.Forms().DefaultSubmitSelector
	}
	if task.AccountID != "" {
		task.SessionID = schemas.NewSessionID(task.AccountID, task.CreatedAt)
	}
	if err := task.Validate(); err != nil {
		return task, fmt.Errorf("invalid task: %w", err)
	}
	return task, nil
}

// parseFields reads key=value pairs in order. Later keys replace earlier ones
// in place.
func parseFields(fields []string) (*schemas.FormData, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	fd := schemas.NewFormData()
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed field %q, expected key=value", field)
		}
		switch value {
		case "true", "false":
			fd.Set(key, schemas.BoolValue(value == "true"))
		default:
			fd.Set(key, schemas.StringValue(value))
		}
	}
	return fd, nil
}

func writeResult(w io.Writer, result *schemas.JobResult) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
