// Package main provides the CLI entrypoint for dcsf.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/dcsf/internal/clock"
	"github.com/verte-zerg/dcsf/internal/config"
	"github.com/verte-zerg/dcsf/internal/engine"
	"github.com/verte-zerg/dcsf/internal/logging"
	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/remote"
	"github.com/verte-zerg/dcsf/internal/store"
	"github.com/verte-zerg/dcsf/internal/tui"
)

const (
	defaultAddr      = "127.0.0.1:8080"
	loopBuffer       = 64
	bridgeBuffer     = 64
	lookupTimeout    = 10 * time.Second
)

var (
	runPatient  string
	runEye      string
	runMode     string
	runTemplate string
	runSeed     int64
	runServer   string
	runVerbose  bool

	configTemplate bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dcsf",
		Short:         "Dynamic contrast sensitivity test",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runTestCmd,
	}

	rootCmd.Flags().StringVar(&runPatient, "patient", "", "patient id")
	rootCmd.Flags().StringVar(&runEye, "eye", string(model.EyeBoth), "eye under test (L, R or B)")
	rootCmd.Flags().StringVar(&runMode, "mode", "", "direction mode (auto or manual, default: template)")
	rootCmd.Flags().StringVar(&runTemplate, "template", config.DefaultTemplateName, "template name or path")
	rootCmd.Flags().Int64Var(&runSeed, "seed", 0, "random seed for order and directions (0 = time based)")
	rootCmd.Flags().StringVar(&runServer, "server", "", "submit sessions to a dcsf server instead of the local db")
	rootCmd.PersistentFlags().BoolVar(&runVerbose, "verbose", false, "log debug diagnostics")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newPatientCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// sessionBackend is what the run command needs from the local store or
// the remote collaborator.
type sessionBackend interface {
	engine.Persister
	ListPatients(ctx context.Context) ([]model.Patient, error)
}

func runTestCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "patient", &runPatient, fileCfg.Run.Patient)
	applyStringConfig(cmd, "eye", &runEye, fileCfg.Run.Eye)
	applyStringConfig(cmd, "mode", &runMode, fileCfg.Run.Mode)
	applyStringConfig(cmd, "template", &runTemplate, fileCfg.Run.Template)
	applyInt64Config(cmd, "seed", &runSeed, fileCfg.Run.Seed)
	applyStringConfig(cmd, "server", &runServer, fileCfg.Run.Server)
	applyBoolConfig(cmd, "verbose", &runVerbose, fileCfg.Log.Verbose)

	run, err := buildRunConfig(runPatient, runEye, runMode, runTemplate, runSeed)
	if err != nil {
		return err
	}

	logger, err := openLogger(fileCfg)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	backend, closeBackend, err := openBackend(runServer)
	if err != nil {
		return err
	}
	defer closeBackend()

	subject, err := lookupSubject(cmd.Context(), backend, run.PatientID, runServer != "")
	if err != nil {
		return err
	}

	logger.Info("run",
		zap.String("patient", run.PatientID),
		zap.String("eye", string(run.Eye)),
		zap.String("template", run.Basic.Name),
		zap.String("mode", string(run.Basic.Mode)),
		zap.Int("modules", len(run.Modules)),
		zap.Int64("seed", run.Seed),
	)
	return runTUI(cmd.Context(), run, subject, backend, logger)
}

// runTUI runs the engine on the event loop and the view on the terminal
// until the view quits.
func runTUI(ctx context.Context, run model.RunConfig, subject string, persister engine.Persister, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loop := clock.NewEventLoop(loopBuffer)
	bridge := tui.NewBridge(loop.Post, bridgeBuffer)
	eng := engine.New(engine.Options{
		Loop:      loop,
		Persister: persister,
		Logger:    logger,
		Listener:  bridge.Listener(),
	})
	bridge.Attach(eng)

	view := tui.NewModel(tui.Config{Bridge: bridge, Run: run, Subject: subject, Now: loop.Now})
	program := tea.NewProgram(view, tea.WithAltScreen(), tea.WithContext(ctx))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		stopEngine(loop, bridge, eng)
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		return nil
	})
	err := g.Wait()
	loop.Wait()
	return err
}

// stopEngine cancels pending trial timers once the view has quit. The view
// no longer reads events, so delivery is unblocked before the reset emits one.
func stopEngine(loop *clock.EventLoop, bridge *tui.Bridge, eng *engine.Engine) {
	bridge.Close()
	loop.Call(eng.Reset)
}

func buildRunConfig(patient, eye, mode, templateName string, seed int64) (model.RunConfig, error) {
	patient = strings.TrimSpace(patient)
	if patient == "" {
		return model.RunConfig{}, fmt.Errorf("--patient is required (add one with: dcsf patient add)")
	}
	parsedEye, err := parseEye(eye)
	if err != nil {
		return model.RunConfig{}, err
	}
	tpl, err := config.LoadNamedTemplate(config.DefaultTemplateDir(), templateName)
	if err != nil {
		return model.RunConfig{}, fmt.Errorf("failed to load template: %w", err)
	}
	if mode != "" {
		parsedMode, err := parseMode(mode)
		if err != nil {
			return model.RunConfig{}, err
		}
		tpl.Basic.Mode = parsedMode
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return model.RunConfig{
		PatientID: patient,
		Eye:       parsedEye,
		Basic:     tpl.Basic,
		Modules:   tpl.Modules,
		Seed:      seed,
	}, nil
}

func parseEye(value string) (model.Eye, error) {
	switch eye := model.Eye(strings.ToUpper(strings.TrimSpace(value))); eye {
	case model.EyeLeft, model.EyeRight, model.EyeBoth:
		return eye, nil
	}
	return "", fmt.Errorf("--eye must be L, R or B")
}

func parseMode(value string) (model.Mode, error) {
	switch mode := model.Mode(strings.ToLower(strings.TrimSpace(value))); mode {
	case model.ModeAuto, model.ModeManual:
		return mode, nil
	}
	return "", fmt.Errorf("--mode must be auto or manual")
}

func openLogger(fileCfg config.FileConfig) (*zap.Logger, error) {
	path := config.DefaultLogPath()
	if fileCfg.Log.Path != nil {
		path = *fileCfg.Log.Path
	}
	logger, err := logging.New(path, runVerbose)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func openStore() (*store.Store, func(), error) {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}
	closeFn := func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}
	return st, closeFn, nil
}

func openBackend(serverURL string) (sessionBackend, func(), error) {
	if serverURL != "" {
		client, err := remote.New(serverURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --server: %w", err)
		}
		return client, func() {}, nil
	}
	st, closeFn, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return st, closeFn, nil
}

// lookupSubject returns the patient's name for the title. A remote server
// that cannot list patients is not fatal; the local store must know the
// patient.
func lookupSubject(ctx context.Context, backend sessionBackend, patientID string, remoteMode bool) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	patients, err := backend.ListPatients(ctx)
	if err != nil {
		if remoteMode {
			logErrf("failed to list patients: %v\n", err)
			return patientID, nil
		}
		return "", fmt.Errorf("failed to load patients: %w", err)
	}
	for _, p := range patients {
		if p.ID == patientID {
			return p.Name, nil
		}
	}
	if remoteMode {
		return patientID, nil
	}
	return "", fmt.Errorf("patient %q not found (add with: dcsf patient add --id %s)", patientID, patientID)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
	cmd.Flags().BoolVar(&configTemplate, "template", false, "create/open the default test template instead")
	return cmd
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if configTemplate {
		path = filepath.Join(config.DefaultTemplateDir(), config.DefaultTemplateName+".toml")
		if err := config.WriteDefaultTemplate(path); err != nil {
			return err
		}
	} else if err := writeDefaultConfig(path); err != nil {
		return err
	}
	return openEditor(path)
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}
	return nil
}

func openEditor(path string) error {
	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyInt64Config(cmd *cobra.Command, name string, target, value *int64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# dcsf configuration
# Uncomment a value to enable it. CLI flags override config values.

[run]
# patient = ""            # Patient id used when --patient is not given
# eye = %q               # Eye under test: L, R or B
# mode = "auto"           # Override the template mode: auto or manual
# template = %q     # Template name under %s, or a path
# seed = 0                # Random seed, 0 = time based
# server = ""             # Submit to a dcsf server, e.g. "http://%s"

[serve]
# addr = %q

[log]
# verbose = false         # Log debug diagnostics
# path = %q
`,
		string(model.EyeBoth),
		config.DefaultTemplateName,
		config.DefaultTemplateDir(),
		defaultAddr,
		defaultAddr,
		config.DefaultLogPath(),
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
