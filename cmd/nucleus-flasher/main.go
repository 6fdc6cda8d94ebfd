package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/gousb"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/roulette-tools/nucleus-flasher/internal/detect"
	"github.com/roulette-tools/nucleus-flasher/internal/flasher"
	"github.com/roulette-tools/nucleus-flasher/internal/logs"
	"github.com/roulette-tools/nucleus-flasher/internal/protocol"
	"github.com/roulette-tools/nucleus-flasher/internal/serial"
	"github.com/roulette-tools/nucleus-flasher/internal/usb"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	vidFlag            uint16
	pidFlag            uint16
	firstPageDelayFlag time.Duration
	pageDelayFlag      time.Duration
	progressEveryFlag  int
	waitFlag           time.Duration
	monitorWaitFlag    time.Duration
	timeoutFlag        time.Duration
	monitorFlag        string
	baudFlag           int
	logFileFlag        string
	verboseFlag        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nucleus-flasher",
		Short: "Upload firmware to Micronucleus (Digispark) bootloaders",
		Long: `Nucleus Flasher uploads a raw firmware image to an ATtiny board running
the Micronucleus USB bootloader and starts the uploaded program.

The image must be a flat binary of at most 6144 bytes (96 pages of 64 bytes).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Write diagnostic logs to a file, rotating after 20MB")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log every control transfer")

	// Flash command
	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Upload firmware and start it",
		Long: `Upload a raw firmware image page by page, then start it.

The device resets as soon as it receives the run command, so a
disconnect at that point is reported as success.

Use --wait to give yourself time to plug the board in.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	addDeviceFlags(flashCmd)
	flashCmd.Flags().DurationVar(&firstPageDelayFlag, "first-page-delay", flasher.DefaultFirstPageDelay, "Wait after page 0 (erase + program)")
	flashCmd.Flags().DurationVar(&pageDelayFlag, "page-delay", flasher.DefaultNextPageDelay, "Wait after every other page (program only)")
	flashCmd.Flags().IntVar(&progressEveryFlag, "progress-every", flasher.DefaultProgressInterval, "Update progress every N pages")
	flashCmd.Flags().StringVar(&monitorFlag, "monitor", "", "Serial port of the uploaded program to monitor after start")
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate for --monitor")

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the program already in flash",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	addDeviceFlags(runCmd)

	// Check command
	checkCmd := &cobra.Command{
		Use:   "check <firmware.bin>",
		Short: "Check that a firmware image fits the device",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	// Monitor command
	monitorCmd := &cobra.Command{
		Use:   "monitor <port>",
		Short: "Print output from a serial port",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonitor,
	}
	monitorCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	monitorCmd.Flags().DurationVar(&monitorWaitFlag, "wait", 10*time.Second, "How long to wait for the port to appear")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nucleus-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	// Ports command
	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		RunE:  runPorts,
	}

	rootCmd.AddCommand(flashCmd, runCmd, checkCmd, monitorCmd, versionCmd, portsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16Var(&vidFlag, "vid", protocol.DefaultVendorID, "Bootloader USB vendor ID")
	cmd.Flags().Uint16Var(&pidFlag, "pid", protocol.DefaultProductID, "Bootloader USB product ID")
	cmd.Flags().DurationVarP(&waitFlag, "wait", "w", 0, "Wait up to this long for the bootloader to appear")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", usb.DefaultControlTimeout, "Control transfer timeout")
}

func exitCode(err error) int {
	var cancelled *flasher.CancelledError
	if errors.As(err, &cancelled) || errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// openBootloader returns a handle to the bootloader, waiting for it if --wait is set.
func openBootloader(ctx context.Context, usbCtx *gousb.Context) (*usb.Device, error) {
	dev := usb.New(usbCtx, vidFlag, pidFlag)
	dev.SetControlTimeout(timeoutFlag)

	if waitFlag > 0 {
		fmt.Printf("Waiting up to %s for bootloader %04X:%04X...\n", waitFlag, vidFlag, pidFlag)
		waitCtx, cancel := context.WithTimeout(ctx, waitFlag)
		defer cancel()
		if err := detect.WaitForDevice(waitCtx, dev, detect.DefaultPollInterval); err != nil {
			return nil, fmt.Errorf("device detection failed: %w", err)
		}
	} else if err := dev.Open(); err != nil {
		return nil, err
	}

	fmt.Printf("Found %s\n", dev.Describe())
	return dev, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	firmwarePath := args[0]

	// Read firmware file
	firmware, err := os.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	totalPages := protocol.TotalPages(len(firmware))
	fmt.Printf("Firmware: %s (%d bytes, %d pages)\n", firmwarePath, len(firmware), totalPages)

	if err := protocol.CheckCapacity(len(firmware)); err != nil {
		return err
	}

	logger := logs.Setup(logFileFlag, verboseFlag)
	defer logger.Close()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	dev, err := openBootloader(ctx, usbCtx)
	if err != nil {
		return err
	}
	defer dev.Close()

	bar := progressbar.NewOptions(totalPages,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	f := flasher.New(dev,
		flasher.WithTiming(flasher.Timing{FirstPage: firstPageDelayFlag, NextPage: pageDelayFlag}),
		flasher.WithProgressInterval(progressEveryFlag),
		flasher.WithLogger(logger),
		flasher.WithProgressCallback(func(current, total int) {
			bar.Set(current)
		}),
	)

	result, err := f.UploadWithResult(ctx, firmware)
	if err != nil {
		bar.Exit()
		return err
	}
	bar.Finish()

	fmt.Printf("\nFlash complete! %d pages in %s\n", result.Pages, result.Elapsed.Round(time.Millisecond))
	if result.Disconnected {
		fmt.Println("Device reset (success)")
	} else {
		fmt.Println("Program started")
	}

	if monitorFlag == "" {
		fmt.Println("Done!")
		return nil
	}
	return monitor(ctx, monitorFlag, baudFlag, 10*time.Second)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := logs.Setup(logFileFlag, verboseFlag)
	defer logger.Close()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	dev, err := openBootloader(cmd.Context(), usbCtx)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := flasher.New(dev, flasher.WithLogger(logger)).Run(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Program started")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	firmware, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}

	pages := protocol.TotalPages(len(firmware))
	fmt.Printf("  Size:     %d bytes\n", len(firmware))
	fmt.Printf("  Pages:    %d of %d\n", pages, protocol.MaxPages)
	if err := protocol.CheckCapacity(len(firmware)); err != nil {
		return err
	}
	fmt.Printf("  Free:     %d bytes\n", protocol.MaxImageSize-len(firmware))
	if tail := len(firmware) % protocol.PageSize; tail != 0 {
		fmt.Printf("  Padding:  %d bytes of 0xFF in the last page\n", protocol.PageSize-tail)
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return monitor(cmd.Context(), args[0], baudFlag, monitorWaitFlag)
}

func monitor(ctx context.Context, portName string, baud int, wait time.Duration) error {
	fmt.Printf("Waiting for %s...\n", portName)
	openCtx, cancel := context.WithTimeout(ctx, wait)
	port, err := serial.OpenWithRetry(openCtx, portName, baud, 250*time.Millisecond)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud (Ctrl-C to exit)\n", port.PortName(), port.BaudRate())
	return port.Monitor(ctx, os.Stdout)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
