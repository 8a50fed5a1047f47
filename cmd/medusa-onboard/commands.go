package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/EM0V0/MeDUSA-sub002/internal/ble"
	"github.com/EM0V0/MeDUSA-sub002/internal/config"
)

var (
	configPath string
	deviceAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.config/medusa-onboard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&deviceAddr, "device", "", "Sensor address (skips scanning)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(factoryResetCmd)
	rootCmd.AddCommand(unpairCmd)
}

// loadConfig resolves the effective config: the --config file when given,
// the default config file when present, built-in defaults otherwise.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); err != nil {
			cfg := config.Default()
			setupLogging(cfg)
			return cfg, nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})
	slog.SetDefault(slog.New(handler))
}

func engineOptions(cfg *config.Config) ble.EngineOptions {
	return ble.EngineOptions{
		SettleDelay:  time.Duration(cfg.Provision.SettleDelayMillis) * time.Millisecond,
		PollInterval: time.Duration(cfg.Provision.PollIntervalMillis) * time.Millisecond,
		PollBudget:   cfg.Provision.PollBudget,
	}
}

// resolveDevice picks the target sensor: the --device flag, the configured
// address, or a scan that must find exactly one match.
func resolveDevice(ctx context.Context, cfg *config.Config, adapter *ble.HardwareAdapter) (ble.Device, error) {
	if deviceAddr != "" {
		return ble.Device{Address: deviceAddr}, nil
	}
	if cfg.Device.Address != "" {
		return ble.Device{Address: cfg.Device.Address}, nil
	}

	fmt.Println("No sensor address specified, scanning...")
	devices, err := scanForSensors(ctx, cfg, adapter)
	if err != nil {
		return ble.Device{}, err
	}

	switch len(devices) {
	case 0:
		return ble.Device{}, fmt.Errorf("no sensors found. Use --device to specify an address manually")
	case 1:
		fmt.Printf("Found sensor: %s (%s)\n\n", devices[0].Name, devices[0].Address)
		return devices[0], nil
	default:
		fmt.Printf("Found %d sensors:\n", len(devices))
		for i, d := range devices {
			fmt.Printf("%d. %s (%s)\n", i+1, d.Name, d.Address)
		}
		return ble.Device{}, fmt.Errorf("multiple sensors found. Use --device to specify which one")
	}
}

func scanForSensors(ctx context.Context, cfg *config.Config, adapter *ble.HardwareAdapter) ([]ble.Device, error) {
	scanner := ble.NewScanner(adapter)
	timeout := time.Duration(cfg.Scan.TimeoutSeconds) * time.Second

	ch, err := scanner.Start(ctx, timeout, cfg.Device.NameFilter)
	if err != nil {
		return nil, err
	}

	var devices []ble.Device
	for d := range ch {
		devices = append(devices, d)
	}
	return devices, nil
}

// connectSensor establishes the session and the pairing coordinator for one
// sensor, ready for engine operations.
func connectSensor(ctx context.Context, cfg *config.Config) (*ble.Session, *ble.PairingCoordinator, ble.Device, error) {
	adapter := ble.NewHardwareAdapter()
	if err := adapter.Enable(); err != nil {
		return nil, nil, ble.Device{}, fmt.Errorf("enabling Bluetooth adapter: %w", err)
	}

	device, err := resolveDevice(ctx, cfg, adapter)
	if err != nil {
		return nil, nil, ble.Device{}, err
	}

	session := ble.NewSession(adapter)
	connectTimeout := time.Duration(cfg.Scan.ConnectTimeoutSeconds) * time.Second
	fmt.Printf("Connecting to %s...\n", device.Address)
	if err := session.Connect(ctx, device.Address, connectTimeout); err != nil {
		return nil, nil, ble.Device{}, err
	}

	bonder := ble.NewHardwareBonder(adapter)
	coordinator := ble.NewPairingCoordinator(bonder, terminalPinProvider)
	return session, coordinator, device, nil
}

// terminalPinProvider prompts the operator for the PIN shown on the
// sensor's display.
func terminalPinProvider(ctx context.Context, device ble.Device) (string, bool) {
	fmt.Printf("Enter the PIN shown on sensor %s (empty to cancel): ", device.Address)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	pin := strings.TrimSpace(line)
	if pin == "" {
		return "", false
	}
	return pin, true
}

// promptSecret reads a value without echoing it. Falls back to a plain read
// when stdin is not a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for MeDUSA sensors",
	Long: `Scan for MeDUSA sensors advertising over Bluetooth LE.

Lists every matching sensor with its address, advertised name, and signal
strength. The advertised-name filter comes from the config file.`,
	Example: `  # Scan with the configured filter and timeout
  medusa-onboard scan`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter := ble.NewHardwareAdapter()
	fmt.Printf("Scanning for sensors (timeout: %ds, filter: %q)...\n\n", cfg.Scan.TimeoutSeconds, cfg.Device.NameFilter)

	devices, err := scanForSensors(cmd.Context(), cfg, adapter)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No sensors found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the sensor is powered on and within range")
		fmt.Println("  - A sensor already joined to a network stops advertising; factory-reset it first")
		fmt.Println("  - Increase scan.timeout_seconds in the config for crowded environments")
		return nil
	}

	fmt.Printf("Found %d sensor(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("%d. %s\n", i+1, d.Name)
		fmt.Printf("   Address: %s\n", d.Address)
		fmt.Printf("   RSSI:    %d dBm\n", d.RSSI)
		fmt.Println()
	}

	fmt.Println("Use 'medusa-onboard provision <ssid> --device <address>' to onboard a sensor")
	return nil
}

var provisionCmd = &cobra.Command{
	Use:   "provision <ssid>",
	Short: "Deliver Wi-Fi credentials to a sensor",
	Long: `Pair with a sensor and deliver Wi-Fi credentials so it can join the
network.

Pairing uses the PIN shown on the sensor's display. The Wi-Fi password is
prompted without echo and is never written to logs.`,
	Example: `  # Provision the only sensor in range
  medusa-onboard provision ClinicNet

  # Provision a specific sensor
  medusa-onboard provision ClinicNet --device AA:BB:CC:DD:EE:FF`,
	Args: cobra.ExactArgs(1),
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ssid := args[0]

	psk, err := promptSecret(fmt.Sprintf("Wi-Fi password for %q: ", ssid))
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	ctx := cmd.Context()
	session, coordinator, device, err := connectSensor(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	if err := coordinator.EnsurePaired(ctx, device); err != nil {
		if errors.Is(err, ble.ErrPairingCancelled) {
			return fmt.Errorf("pairing cancelled")
		}
		return fmt.Errorf("pairing failed: %w", err)
	}

	engine := ble.NewEngine(session, coordinator, engineOptions(cfg))
	fmt.Printf("Provisioning %q on %s (this can take up to %ds)...\n",
		ssid, device.Address, cfg.Provision.PollBudget*cfg.Provision.PollIntervalMillis/1000)

	if err := engine.Provision(ctx, ssid, psk); err != nil {
		var provErr *ble.ProvisioningError
		switch {
		case errors.As(err, &provErr):
			return fmt.Errorf("sensor reported %s; check the network name and password", provErr.Label)
		case errors.Is(err, ble.ErrProvisioningTimeout):
			return fmt.Errorf("sensor did not reach a final state in time; verify the network is in range")
		case errors.Is(err, ble.ErrConnectionLost):
			return fmt.Errorf("connection lost during provisioning; move closer to the sensor and retry")
		default:
			return err
		}
	}

	fmt.Println("✓ Sensor joined the network successfully")
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the sensor's onboarding status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session, coordinator, device, err := connectSensor(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	engine := ble.NewEngine(session, coordinator, engineOptions(cfg))
	outcome, err := engine.ReadStatus()
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	fmt.Printf("Sensor %s status: %s (0x%02X)\n", device.Address, outcome.Label, byte(outcome.Code))
	return nil
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Erase the Wi-Fi credentials stored on a sensor",
	RunE:  runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	session, coordinator, device, err := connectSensor(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	if err := coordinator.EnsurePaired(ctx, device); err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	engine := ble.NewEngine(session, coordinator, engineOptions(cfg))
	if err := engine.ClearCredentials(); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}

	fmt.Printf("✓ Credentials cleared on %s\n", device.Address)
	return nil
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Return a sensor to its out-of-box state",
	Long: `Return a sensor to its out-of-box state.

This erases stored credentials and all local sensor state. The sensor
reboots into pairing mode and must be onboarded again before use.`,
	RunE: runFactoryReset,
}

func runFactoryReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Print("This erases all sensor state. Type 'yes' to confirm: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	ctx := cmd.Context()
	session, coordinator, device, err := connectSensor(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	if err := coordinator.EnsurePaired(ctx, device); err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	engine := ble.NewEngine(session, coordinator, engineOptions(cfg))
	if err := engine.FactoryReset(); err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}

	fmt.Printf("✓ Factory reset sent to %s; the sensor will reboot into pairing mode\n", device.Address)
	return nil
}

var unpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Remove the Bluetooth bond with a sensor",
	RunE:  runUnpair,
}

func runUnpair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	address := deviceAddr
	if address == "" {
		address = cfg.Device.Address
	}
	if address == "" {
		return fmt.Errorf("unpair requires --device or a configured device.address")
	}

	adapter := ble.NewHardwareAdapter()
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enabling Bluetooth adapter: %w", err)
	}
	bonder := ble.NewHardwareBonder(adapter)
	coordinator := ble.NewPairingCoordinator(bonder, terminalPinProvider)

	if err := coordinator.Unpair(address); err != nil {
		if errors.Is(err, ble.ErrPlatformUnsupported) {
			return fmt.Errorf("this platform offers no programmatic unpair; remove the bond for %s in the OS Bluetooth settings", address)
		}
		return err
	}

	fmt.Printf("✓ Bond with %s removed\n", address)
	return nil
}
