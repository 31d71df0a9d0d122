package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/doctor"
)

func cmdDoctor(ctx context.Context, cfg config.Config, jsonOut bool) int {
	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "error: encode diagnosis: %v\n", err)
			return exitSysError
		}
		return statusExit(diag)
	}

	fmt.Printf("rove doctor (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	for _, res := range diag.Results {
		fmt.Printf("[%s] %-22s %s\n", renderStatus(res.Status), res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("       %s\n", res.Detail)
		}
	}

	return statusExit(diag)
}

func statusExit(diag doctor.Diagnosis) int {
	for _, res := range diag.Results {
		if res.Status == "FAIL" {
			return exitSysError
		}
	}
	return exitOK
}
