// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagert/internal/config"
	"github.com/xkilldash9x/pagert/internal/observability"
	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/resource"
	"github.com/xkilldash9x/pagert/internal/page/scheduler"
	"github.com/xkilldash9x/pagert/internal/page/viewport"
	"github.com/xkilldash9x/pagert/internal/page/vsync"
	"github.com/xkilldash9x/pagert/internal/reporting"
)

func newRunCmd() *cobra.Command {
	var (
		scroll      []float64
		passes      int
		output      string
		format      string
		width       float64
		height      float64
		concurrency int
		idle        bool
		unlayout    float64
	)

	runCmd := &cobra.Command{
		Use:   "run PAGE.html",
		Short: "Lay out the custom elements of a page at one or more scroll positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			// Flags only override the config when given explicitly.
			flags := cmd.Flags()
			if flags.Changed("viewport-width") {
				cfg.SetViewportWidth(width)
			}
			if flags.Changed("viewport-height") {
				cfg.SetViewportHeight(height)
			}
			if flags.Changed("concurrency") {
				cfg.SetRuntimeMaxConcurrentLayouts(concurrency)
			}
			if flags.Changed("idle-render") {
				cfg.SetRuntimeIdleRenderEnabled(idle)
			}
			if flags.Changed("unlayout-viewports") {
				cfg.SetRuntimeUnlayoutViewports(unlayout)
			}
			if passes < 1 {
				return fmt.Errorf("--passes must be at least 1, got %d", passes)
			}
			if len(scroll) == 0 {
				scroll = []float64{cfg.Viewport().ScrollTop}
			}
			cfg.SetRunConfig(config.RunConfig{
				PagePath:        args[0],
				ScrollPositions: scroll,
				Passes:          passes,
				Output:          output,
			})

			reporter, err := reporting.New(format, output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			runErr := runPage(ctx, cfg, logger, reporter)
			if err := reporter.Close(); err != nil && runErr == nil {
				runErr = fmt.Errorf("failed to close report: %w", err)
			}
			if runErr == nil && output != "" {
				logger.Info("Report written", zap.String("path", output))
			}
			return runErr
		},
	}

	runCmd.Flags().Float64SliceVar(&scroll, "scroll", nil, "Vertical scroll positions to visit in order (default: viewport.scroll_top)")
	runCmd.Flags().IntVar(&passes, "passes", 2, "Scheduling passes to run at each scroll position")
	runCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path. If unset, the JSON report is printed to stdout.")
	runCmd.Flags().StringVarP(&format, "format", "f", "json", "Report format: 'json' or 'text'")
	runCmd.Flags().Float64Var(&width, "viewport-width", 0, "Viewport width in px (overrides viewport.width)")
	runCmd.Flags().Float64Var(&height, "viewport-height", 0, "Viewport height in px (overrides viewport.height)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent layouts (overrides runtime.max_concurrent_layouts)")
	runCmd.Flags().BoolVar(&idle, "idle-render", true, "Admit idle-render elements when nothing visible is pending")
	runCmd.Flags().Float64Var(&unlayout, "unlayout-viewports", 0, "Tear down elements further than this many viewports away, 0 disables")

	return runCmd
}

// runPage loads the page, drives the scheduler through every scroll
// position and hands the report to reporter.
func runPage(ctx context.Context, cfg config.Interface, logger *zap.Logger, reporter reporting.Reporter) error {
	runCfg := cfg.Run()
	vpCfg := cfg.Viewport()
	if vpCfg.Width <= 0 || vpCfg.Height <= 0 {
		return fmt.Errorf("viewport size must be positive, got %gx%g", vpCfg.Width, vpCfg.Height)
	}

	f, err := os.Open(runCfg.PagePath)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	doc, err := dom.Parse(f)
	f.Close()
	if err != nil {
		return err
	}

	vp := viewport.New(doc, viewport.Options{
		Width:                 vpCfg.Width,
		Height:                vpCfg.Height,
		ScrollLeft:            vpCfg.ScrollLeft,
		ScrollTop:             vpCfg.ScrollTop,
		SupportsPositionFixed: vpCfg.SupportsPositionFixed,
	})
	frames := vsync.New(logger, cfg.Vsync().FrameRate, cfg.Vsync().Burst)
	mgr := scheduler.New(cfg, resource.Env{Viewport: vp, Frames: frames, Logger: logger}, logger)
	defer mgr.Close()

	targets, err := mgr.Discover(doc)
	if err != nil {
		logger.Warn("Some elements were skipped", zap.Error(err))
	}

	report := reporting.Report{
		Version: Version,
		Session: mgr.SessionID(),
		Page:    runCfg.PagePath,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := frames.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer frames.Stop()
		for _, top := range runCfg.ScrollPositions {
			vp.SetScrollTop(top)
			for range runCfg.Passes {
				rep, err := mgr.Pass(gctx)
				if err != nil {
					return err
				}
				report.Passes = append(report.Passes, rep)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}

	report.Errors = mgr.Errors()
	for _, t := range targets {
		report.Elements = append(report.Elements, t.Snapshot())
	}
	logger.Info("Run complete",
		zap.String("session", report.Session),
		zap.Int("passes", len(report.Passes)),
		zap.Int("elements", len(report.Elements)),
		zap.Int("target_failures", report.Errors.TargetFailures),
	)

	return reporter.Write(&report)
}
