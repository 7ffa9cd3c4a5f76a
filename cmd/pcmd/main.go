/*
 * pcmd - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opencpm/pcmd/internal/archprofile"
	"github.com/opencpm/pcmd/internal/collector"
	pcmdconfig "github.com/opencpm/pcmd/internal/config"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/monitor"
	"github.com/opencpm/pcmd/internal/monitor/cha"
	"github.com/opencpm/pcmd/internal/monitor/corepmu"
	"github.com/opencpm/pcmd/internal/monitor/imc"
	"github.com/opencpm/pcmd/internal/monitor/iio"
	"github.com/opencpm/pcmd/internal/monitor/irp"
	"github.com/opencpm/pcmd/internal/monitor/rapl"
	"github.com/opencpm/pcmd/internal/monitor/rdt"
	logger "github.com/opencpm/pcmd/util/logger"
)

var Logger *slog.Logger

func main() {
	root := &cobra.Command{
		Use:   "pcmd",
		Short: "Intel server CPU uncore/core PMU telemetry daemon",
		RunE:  run,
	}

	root.Flags().String("config", "", "Configuration file (YAML)")
	root.Flags().String("log", "", "Log file")
	root.Flags().Bool("verbose", false, "Enable verbose logging")
	root.Flags().String("listen", ":9100", "Metrics HTTP listen address")
	root.Flags().IntSlice("sockets", []int{0}, "Sockets to monitor")
	root.Flags().IntSlice("cores", nil, "Cores to monitor for RDT/core-PMU metrics")

	if err := viper.BindPFlags(root.Flags()); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}

	var file *os.File
	if logFile := viper.GetString("log"); logFile != "" {
		var err error
		file, err = os.Create(logFile)
		if err != nil {
			return err
		}
	}

	programLevel := new(slog.LevelVar)
	verbose := viper.GetBool("verbose")
	if verbose {
		programLevel.Set(slog.LevelDebug)
	} else {
		programLevel.Set(slog.LevelInfo)
	}
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &verbose))
	slog.SetDefault(Logger)

	Logger.Info("pcmd started")

	cfg := &pcmdconfig.Config{
		Sockets:       viper.GetIntSlice("sockets"),
		Cores:         viper.GetIntSlice("cores"),
		CoreLabels:    map[int]string{},
		EnableIMC:     true,
		EnableCHA:     true,
		EnableIIO:     true,
		EnableIRP:     true,
		EnableRAPL:    true,
		EnableRDT:     len(viper.GetIntSlice("cores")) > 0,
		EnableCorePMU: len(viper.GetIntSlice("cores")) > 0,
		Verbose:       verbose,
		InstanceName:  "pcmd",
		ListenAddr:    viper.GetString("listen"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	arch := archprofile.Detect(Logger)
	Logger.Info("detected architecture", "arch", arch.String())

	msrPool := hw.NewMsrPool(Logger)
	defer msrPool.Close()

	mcfg, err := hw.NewDefaultMcfg()
	if err != nil {
		Logger.Warn("MCFG unavailable, PCI-backed monitors will be skipped", "error", err)
	}
	var pciPool *hw.PciPool
	if mcfg != nil {
		pciPool = hw.NewPciPool(mcfg, Logger)
		defer pciPool.Close()
	}

	monitors := buildMonitors(cfg, arch, msrPool, pciPool, Logger)

	registry := prometheus.NewRegistry()
	coll := collector.New(monitors, registry, Logger)
	if err := coll.Program(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Error(err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	go coll.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	Logger.Info("shutting down")
	cancel()
	coll.Stop()
	_ = server.Close()
	Logger.Info("stopped")
	return nil
}

func buildMonitors(cfg *pcmdconfig.Config, arch archprofile.Architecture, msrPool *hw.MsrPool, pciPool *hw.PciPool, logger *slog.Logger) []monitor.Monitor {
	var monitors []monitor.Monitor

	for _, socket := range cfg.Sockets {
		representativeCPU := socket * 28

		if cfg.EnableIMC && pciPool != nil {
			monitors = append(monitors, imc.New(socket, pciPool, logger))
		}

		if cfg.EnableCHA {
			boxCount, ok := arch.ChaCount()
			if !ok {
				boxCount = 28
			}
			monitors = append(monitors, cha.New(socket, boxCount, representativeCPU, msrPool, logger))
		}

		if cfg.EnableIIO {
			monitors = append(monitors, iio.New(socket, representativeCPU, msrPool, logger))
		}

		if cfg.EnableIRP && pciPool != nil {
			m, err := irp.New(socket, arch, msrPool, representativeCPU, pciPool, logger)
			if err != nil {
				logger.Warn("IRP monitor unavailable", "socket", socket, "error", err)
			} else {
				monitors = append(monitors, m)
			}
		}

		if cfg.EnableRAPL {
			m, err := rapl.New(socket, representativeCPU, msrPool, logger)
			if err != nil {
				logger.Warn("RAPL monitor unavailable", "socket", socket, "error", err)
			} else {
				monitors = append(monitors, m)
			}
		}
	}

	if cfg.EnableRDT && len(cfg.Cores) > 0 {
		scalingFactor := archprofile.MbmScalingFactor(logger)
		m, err := rdt.New(cfg.Sockets[0], cfg.Cores, cfg.Cores[0], scalingFactor, msrPool, logger)
		if err != nil {
			logger.Warn("RDT monitor unavailable", "error", err)
		} else {
			monitors = append(monitors, m)
		}
	}

	if cfg.EnableCorePMU {
		for _, core := range cfg.Cores {
			m, err := corepmu.New(core, msrPool, logger)
			if err != nil {
				logger.Warn("core PMU monitor unavailable", "core", core, "error", err)
				continue
			}
			monitors = append(monitors, m)
		}
	}

	return monitors
}
