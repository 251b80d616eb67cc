package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pario-ai/switchboard/pkg/models"
)

// CLIConfig configures the claude CLI adapter.
type CLIConfig struct {
	Binary  string
	Timeout time.Duration
	// Aliases expands short model names before they reach the CLI.
	Aliases map[string]string
}

type runFunc func(ctx context.Context, name string, args, env []string) (stdout, stderr []byte, err error)

// ClaudeCLI shells out to `claude -p` under the user's existing subscription.
// Tokens are estimated and cost is priced from the public table for
// comparison only.
type ClaudeCLI struct {
	cfg      CLIConfig
	pricing  Pricing
	lookPath func(string) (string, error)
	run      runFunc
}

// NewClaudeCLI creates the CLI adapter.
func NewClaudeCLI(cfg CLIConfig, pricing Pricing) *ClaudeCLI {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ClaudeCLI{cfg: cfg, pricing: pricing, lookPath: exec.LookPath, run: runCommand}
}

func (c *ClaudeCLI) Name() string { return "claude-code" }
func (c *ClaudeCLI) Kind() Kind   { return CLI }

// Pricing looks model up in the public price table.
func (c *ClaudeCLI) Pricing(model string) models.ModelPricing {
	pr, _ := c.pricing.Lookup(model)
	return pr
}

// Available is true when the binary is on PATH.
func (c *ClaudeCLI) Available(context.Context) bool {
	_, err := c.lookPath(c.cfg.Binary)
	return err == nil
}

// Execute implements Adapter.
func (c *ClaudeCLI) Execute(ctx context.Context, call Call) (Result, error) {
	model := call.Model
	if !strings.HasPrefix(model, "claude-") {
		if full, ok := c.cfg.Aliases[model]; ok {
			model = full
		}
	}
	prompt := BuildCLIPrompt(call.System, call.Messages)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := []string{"-p", "--model", model, "--no-session-persistence", prompt}
	stdout, stderr, err := c.run(ctx, c.cfg.Binary, args, envWithout("CLAUDECODE"))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, execFailed(c.Name(), model, fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, ctx.Err()))
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		return Result{}, execFailed(c.Name(), model, fmt.Errorf("%w: %s", err, msg))
	}

	text := strings.TrimSpace(string(stdout))
	in, out := EstimateTokens(prompt), EstimateTokens(text)
	return Result{
		Text:      text,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   c.Pricing(model).Cost(in, out),
		Model:     "claude-code/" + model,
	}, nil
}

// BuildCLIPrompt flattens a conversation for a single CLI prompt argument.
func BuildCLIPrompt(system string, messages []models.Message) string {
	var parts []string
	if system != "" {
		parts = append(parts, "[System: "+system+"]")
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			parts = append(parts, "[Assistant: "+m.Content+"]")
		case "user", "":
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// EstimateTokens blends a word-based and a character-based estimate:
// max(1, (int(words*1.35) + int(chars/3.8)) / 2).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len([]rune(text))
	byWords := int(float64(words) * 1.35)
	byChars := int(float64(chars) / 3.8)
	return max(1, (byWords+byChars)/2)
}

func envWithout(key string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, key+"=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

func runCommand(ctx context.Context, name string, args, env []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("exit code %d", exitErr.ExitCode())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
