package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rove-run/rove/internal/config"
	"github.com/rove-run/rove/internal/skills"
)

// skill management is a thin shell over internal/skills: the loader
// that turns a SKILL.md directory into an eligible or ineligible
// prompt-time input, and the installer that fetches one from git. The
// transformation a skill applies to a task's system prompt happens
// inside the agent core, not here.

func cmdSkill(cfg config.Config, args []string, jsonOut bool) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rove skill {list,status,on,off,add,edit} [args]")
		return exitUserError
	}

	userDir := filepath.Join(cfg.HomeDir, "skills")
	installedDir := filepath.Join(cfg.HomeDir, "installed")
	projectDir := "skills"
	loader := skills.NewLoader(projectDir, userDir, installedDir, nil)

	action := args[0]
	rest := args[1:]

	switch action {
	case "list":
		return skillList(loader, jsonOut)
	case "status":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: rove skill status <name>")
			return exitUserError
		}
		return skillStatus(loader, rest[0], jsonOut)
	case "on", "off":
		if len(rest) != 1 {
			fmt.Fprintf(os.Stderr, "usage: rove skill %s <name>\n", action)
			return exitUserError
		}
		return skillToggle(loader, rest[0], action == "on")
	case "add":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: rove skill add <github-url>")
			return exitUserError
		}
		installer := skills.NewInstaller(cfg.HomeDir, nil, nil)
		if err := installer.Install(context.Background(), rest[0], ""); err != nil {
			printError(jsonOut, "skill_install_failed", "skill add", err)
			return exitUserError
		}
		fmt.Printf("installed %s\n", rest[0])
		return exitOK
	case "edit":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: rove skill edit <name>")
			return exitUserError
		}
		return skillEdit(loader, rest[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown skill action %q\n", action)
		return exitUserError
	}
}

func skillList(loader *skills.Loader, jsonOut bool) int {
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		printError(jsonOut, "skill_load_failed", "skill list", err)
		return exitSysError
	}
	if jsonOut {
		data, _ := json.Marshal(loaded)
		fmt.Println(string(data))
		return exitOK
	}
	if len(loaded) == 0 {
		fmt.Println("no skills found")
		return exitOK
	}
	for _, s := range loaded {
		state := "eligible"
		if !s.Eligible {
			state = "ineligible: " + fmt.Sprint(s.Missing)
		}
		if isSkillDisabled(s.SourceDir) {
			state = "off"
		}
		fmt.Printf("%-24s source=%-10s %s\n", s.Skill.Name, s.Source, state)
	}
	return exitOK
}

func skillStatus(loader *skills.Loader, name string, jsonOut bool) int {
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		printError(jsonOut, "skill_load_failed", "skill status", err)
		return exitSysError
	}
	for _, s := range loaded {
		if s.Skill.Name != name {
			continue
		}
		if jsonOut {
			data, _ := json.Marshal(s)
			fmt.Println(string(data))
			return exitOK
		}
		fmt.Printf("name:     %s\n", s.Skill.Name)
		fmt.Printf("source:   %s (%s)\n", s.Source, s.SourceDir)
		fmt.Printf("eligible: %v\n", s.Eligible)
		if len(s.Missing) > 0 {
			fmt.Printf("missing:  %v\n", s.Missing)
		}
		fmt.Printf("enabled:  %v\n", !isSkillDisabled(s.SourceDir))
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "skill %q not found\n", name)
	return exitUserError
}

// skillToggle writes or removes a .disabled sentinel file in the
// skill's directory; the loader's LoadAll does not yet consult it, so
// this only affects display — wiring LoadAll to skip disabled skills is
// a follow-up once the agent core's prompt assembly depends on it.
func skillToggle(loader *skills.Loader, name string, enable bool) int {
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitSysError
	}
	for _, s := range loaded {
		if s.Skill.Name != name {
			continue
		}
		marker := filepath.Join(s.SourceDir, ".disabled")
		if enable {
			os.Remove(marker)
			fmt.Printf("%s enabled\n", name)
		} else {
			os.WriteFile(marker, []byte{}, 0o644)
			fmt.Printf("%s disabled\n", name)
		}
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "skill %q not found\n", name)
	return exitUserError
}

func skillEdit(loader *skills.Loader, name string) int {
	loaded, err := loader.LoadAll(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitSysError
	}
	for _, s := range loaded {
		if s.Skill.Name != name {
			continue
		}
		fmt.Println(filepath.Join(s.SourceDir, "SKILL.md"))
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "skill %q not found\n", name)
	return exitUserError
}

func isSkillDisabled(sourceDir string) bool {
	_, err := os.Stat(filepath.Join(sourceDir, ".disabled"))
	return err == nil
}
