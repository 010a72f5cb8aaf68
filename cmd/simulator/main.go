package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	serverURL      = flag.String("server", "ws://localhost:9000/ocpp", "CSMS WebSocket URL")
	chargePointID  = flag.String("id", "CP001", "Charge Point ID")
	vendor         = flag.String("vendor", "SIGEC", "Charge Point Vendor")
	model          = flag.String("model", "SimulatorV1", "Charge Point Model")
	serial         = flag.String("serial", "SIM001", "Serial Number")
	firmware       = flag.String("firmware", "1.0.0", "Firmware Version")
	username       = flag.String("user", "", "Basic auth username (defaults to -id when -password is set)")
	password       = flag.String("password", "", "Basic auth password")
	connectorCount = flag.Int("connectors", 2, "Number of connectors")
	chargePower    = flag.Float64("charge-power", 22000, "Power drawn while charging (W)")
	meterInterval  = flag.Duration("meter-interval", 10*time.Second, "MeterValues interval")
	interactive    = flag.Bool("interactive", false, "Enable interactive mode")
	verbose        = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	user := *username
	if user == "" && *password != "" {
		user = *chargePointID
	}
	config := &SimulatorConfig{
		ServerURL:       *serverURL,
		ChargePointID:   *chargePointID,
		Vendor:          *vendor,
		Model:           *model,
		SerialNumber:    *serial,
		FirmwareVersion: *firmware,
		Username:        user,
		Password:        *password,
		ConnectorCount:  *connectorCount,
		PowerW:          *chargePower,
		MeterInterval:   *meterInterval,
	}
	simulator := NewSimulator(config, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = simulator.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect to server", zap.Error(err))
	}

	if *interactive {
		go func() {
			<-ctx.Done()
			simulator.Stop()
		}()
		printHelp()
		simulator.RunInteractive(ctx, os.Stdin)
		simulator.Stop()
		return
	}

	fmt.Printf("OCPP 2.0.1 Charge Point Simulator started\n")
	fmt.Printf("  ID: %s\n", *chargePointID)
	fmt.Printf("  Server: %s\n", *serverURL)
	fmt.Printf("  Connectors: %d\n", *connectorCount)
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down simulator...")
	case <-simulator.Done():
		logger.Warn("Connection closed by server")
	}
	simulator.Stop()
}

func printHelp() {
	fmt.Println("\nOCPP 2.0.1 Charge Point Simulator - Interactive Mode")
	fmt.Println("====================================================")
	fmt.Println("Commands:")
	fmt.Println("  start <connector> <token> - Authorize and start charging")
	fmt.Println("  stop <connector>          - Stop charging locally")
	fmt.Println("  status <connector> <s>    - Send status (Available/Occupied/Unavailable/Faulted)")
	fmt.Println("  meter <connector>         - Send meter values now")
	fmt.Println("  heartbeat                 - Send heartbeat")
	fmt.Println("  fault <connector>         - Simulate fault on connector")
	fmt.Println("  show                      - Show connector state")
	fmt.Println("  quit                      - Exit simulator")
	fmt.Println("")
}
