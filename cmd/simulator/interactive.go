package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunInteractive reads commands from in until quit, EOF or shutdown.
func (s *Simulator) RunInteractive(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-s.stopChan:
			return
		default:
		}
		if quit := s.execute(ctx, strings.Fields(scanner.Text())); quit {
			return
		}
	}
}

// execute runs one interactive command and reports whether to quit.
func (s *Simulator) execute(ctx context.Context, args []string) bool {
	if len(args) == 0 {
		return false
	}
	connector := func(i int) (int, bool) {
		if len(args) <= i {
			fmt.Println("connector id required")
			return 0, false
		}
		id, err := strconv.Atoi(args[i])
		if err != nil {
			fmt.Printf("invalid connector %q\n", args[i])
			return 0, false
		}
		return id, true
	}

	switch args[0] {
	case "start":
		id, ok := connector(1)
		if !ok {
			return false
		}
		token := "SIMTOKEN"
		if len(args) > 2 {
			token = args[2]
		}
		if err := s.StartCharging(ctx, id, token, nil); err != nil {
			fmt.Println("start failed:", err)
		}
	case "stop":
		if id, ok := connector(1); ok {
			if err := s.StopCharging(ctx, id, "Local"); err != nil {
				fmt.Println("stop failed:", err)
			}
		}
	case "status":
		if id, ok := connector(1); ok && len(args) > 2 {
			s.sendStatusNotification(ctx, id, args[2])
		}
	case "fault":
		if id, ok := connector(1); ok {
			s.sendStatusNotification(ctx, id, "Faulted")
		}
	case "meter":
		if id, ok := connector(1); ok {
			s.sendMeterValues(ctx, id)
		}
	case "heartbeat":
		s.sendHeartbeat(ctx)
	case "show":
		for _, c := range s.snapshot() {
			fmt.Printf("  #%d %-11s tx=%-36s meter=%.0fWh limit=%.1fA\n",
				c.ID, c.Status, c.TxID, c.MeterWh, c.LimitAmps)
		}
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return false
}
