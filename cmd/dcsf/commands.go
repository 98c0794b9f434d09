package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/dcsf/internal/api"
	"github.com/verte-zerg/dcsf/internal/config"
	"github.com/verte-zerg/dcsf/internal/historyui"
	"github.com/verte-zerg/dcsf/internal/logging"
	"github.com/verte-zerg/dcsf/internal/model"
	"github.com/verte-zerg/dcsf/internal/remote"
	"github.com/verte-zerg/dcsf/internal/report"
	"github.com/verte-zerg/dcsf/internal/simulate"
)

const shutdownTimeout = 5 * time.Second

var (
	patientID       string
	patientName     string
	patientGender   string
	patientBirthday string

	historyPatient string
	historyEye     string
	historyLast    int
	historyTUI     bool
	historyServer  string

	reportServer string
	reportPlots  bool

	simTemplate  string
	simEye       string
	simMode      string
	simSeed      int64
	simThreshold float64
	simSlope     float64
	simLapse     float64
	simLatency   time.Duration
	simMissRate  float64
	simTrialCap  int
	simSave      bool
	simPatient   string

	serveAddr string
)

func newPatientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage patients",
	}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a patient",
		Args:  cobra.NoArgs,
		RunE:  runPatientAddCmd,
	}
	addCmd.Flags().StringVar(&patientID, "id", "", "patient id (default: current time in ms)")
	addCmd.Flags().StringVar(&patientName, "name", "", "patient name")
	addCmd.Flags().StringVar(&patientGender, "gender", "", "gender")
	addCmd.Flags().StringVar(&patientBirthday, "birthday", "", "birthday (YYYY-MM-DD)")
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		Args:  cobra.NoArgs,
		RunE:  runPatientListCmd,
	}
	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func runPatientAddCmd(cmd *cobra.Command, _ []string) error {
	p := model.Patient{ID: patientID, Name: patientName, Gender: patientGender, Birthday: patientBirthday}
	if err := model.Validate(p); err != nil {
		return fmt.Errorf("invalid patient: %w", err)
	}
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()
	created, err := st.InsertPatient(cmd.Context(), p)
	if err != nil {
		return fmt.Errorf("failed to add patient: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), created.ID); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runPatientListCmd(cmd *cobra.Command, _ []string) error {
	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()
	patients, err := st.ListPatients(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list patients: %w", err)
	}
	if len(patients) == 0 {
		logErrln("No patients yet. Add one with: dcsf patient add --name NAME --gender F --birthday 1990-01-31")
		return nil
	}
	return report.WritePatients(cmd.OutOrStdout(), patients, useColor(cmd))
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyPatient, "patient", "", "patient id filter")
	cmd.Flags().StringVar(&historyEye, "eye", "", "eye filter (L, R or B)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().BoolVar(&historyTUI, "tui", false, "open the interactive history browser")
	cmd.Flags().StringVar(&historyServer, "server", "", "read sessions from a dcsf server")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	filter := historyui.Filter{PatientID: historyPatient, Last: historyLast}
	if historyEye != "" {
		eye, err := parseEye(historyEye)
		if err != nil {
			return err
		}
		filter.Eye = eye
	}
	if historyLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}
	src, closeSrc, err := openSource(historyServer)
	if err != nil {
		return err
	}
	defer closeSrc()

	if historyTUI {
		program := tea.NewProgram(historyui.NewModel(src, filter), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run history TUI: %w", err)
		}
		return nil
	}
	sessions, err := src.ListSessions(cmd.Context(), filter.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	sessions = historyui.ApplyFilter(sessions, filter)
	return report.WriteSessions(cmd.OutOrStdout(), sessions, useColor(cmd))
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report SESSION_ID",
		Short: "Print a session report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportCmd,
	}
	cmd.Flags().BoolVar(&reportPlots, "plots", true, "plot the contrast track of every module")
	cmd.Flags().StringVar(&reportServer, "server", "", "read the session from a dcsf server")
	return cmd
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid session id %q", args[0])
	}
	src, closeSrc, err := openSource(reportServer)
	if err != nil {
		return err
	}
	defer closeSrc()
	r, err := report.BuildReport(cmd.Context(), src, id)
	if err != nil {
		return err
	}
	return report.WriteSession(cmd.OutOrStdout(), r, report.Options{
		Color: useColor(cmd),
		Plots: reportPlots,
	})
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a template against a simulated observer",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCmd,
	}
	observer := simulate.DefaultObserver()
	cmd.Flags().StringVar(&simTemplate, "template", config.DefaultTemplateName, "template name or path")
	cmd.Flags().StringVar(&simEye, "eye", string(model.EyeBoth), "eye recorded for the session (L, R or B)")
	cmd.Flags().StringVar(&simMode, "mode", "", "direction mode (auto or manual, default: template)")
	cmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (0 = time based)")
	cmd.Flags().Float64Var(&simThreshold, "threshold", observer.Threshold, "observer contrast threshold (%)")
	cmd.Flags().Float64Var(&simSlope, "slope", observer.Slope, "psychometric slope")
	cmd.Flags().Float64Var(&simLapse, "lapse", observer.Lapse, "lapse rate (0-1)")
	cmd.Flags().DurationVar(&simLatency, "latency", observer.Latency, "response latency (at or past duration+interval every trial times out)")
	cmd.Flags().Float64Var(&simMissRate, "miss", observer.MissRate, "probability of not answering (0-1)")
	cmd.Flags().IntVar(&simTrialCap, "trial-cap", 0, "trials per module before it is forced to complete")
	cmd.Flags().BoolVar(&simSave, "save", false, "save the session to the local db")
	cmd.Flags().StringVar(&simPatient, "patient", "simulated", "patient id recorded for the session")
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, _ []string) error {
	run, err := buildRunConfig(simPatient, simEye, simMode, simTemplate, simSeed)
	if err != nil {
		return err
	}
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := openLogger(fileCfg)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	simCfg := simulate.Config{
		Run: run,
		Observer: simulate.Observer{
			Threshold: simThreshold,
			Slope:     simSlope,
			Lapse:     simLapse,
			Latency:   simLatency,
			MissRate:  simMissRate,
		},
		Logger:   logger,
		TrialCap: simTrialCap,
	}
	if simSave {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()
		if _, err := st.GetPatient(cmd.Context(), run.PatientID); err != nil {
			return fmt.Errorf("patient %q not found (add with: dcsf patient add --id %s)", run.PatientID, run.PatientID)
		}
		simCfg.Persister = st
	}

	res, err := simulate.Run(cmd.Context(), simCfg)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	rec := res.Record
	rec.ID = res.Submission.SessionID
	if err := report.WriteSession(cmd.OutOrStdout(), report.FromSession(rec), report.Options{
		Color: useColor(cmd),
		Plots: true,
	}); err != nil {
		return err
	}
	if res.Missed > 0 {
		logErrf("Observer missed %d trials\n", res.Missed)
	}
	if res.Submission.Err != nil {
		return fmt.Errorf("failed to save session: %w", res.Submission.Err)
	}
	if simSave {
		logErrf("Saved as session %d\n", res.Submission.SessionID)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", defaultAddr, "listen address")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "addr", &serveAddr, fileCfg.Serve.Addr)
	applyBoolConfig(cmd, "verbose", &runVerbose, fileCfg.Log.Verbose)

	logger, err := openLogger(fileCfg)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	st, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	if !runVerbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           api.NewServer(st, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logErrf("Listening on http://%s\n", serveAddr)
		logger.Info("serve", zap.String("addr", serveAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openSource returns the session source for read-only commands.
func openSource(serverURL string) (historyui.Source, func(), error) {
	if serverURL != "" {
		client, err := remote.New(serverURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --server: %w", err)
		}
		return client, func() {}, nil
	}
	st, closeStore, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return st, closeStore, nil
}

func useColor(cmd *cobra.Command) bool {
	return report.IsColorTerminal(cmd.OutOrStdout())
}
