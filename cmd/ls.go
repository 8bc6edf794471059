package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fadsec-lab/applock/internal/crypto"
)

// List prints the registered applications with their counters.
func List(cfgPath string) {
	cfg := LoadConfigOrExit(cfgPath)
	v := OpenVault(cfg)

	password := GetPasswordOrExit(v, "Enter master password: ")
	defer crypto.ClearBytes(password)

	reg, err := v.Unlock(password)
	if err != nil {
		HandleError(err)
	}

	if len(reg.Apps) == 0 {
		fmt.Println("No locked applications")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATTERN\tGROUP\tUNLOCKS\tLAST UNLOCKED")
	for _, app := range reg.Apps {
		last := "never"
		if !app.LastUnlockedAt.IsZero() {
			last = app.LastUnlockedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			app.ID, app.Name, app.Pattern, app.Group, app.UnlockCount, last)
	}
	w.Flush()
}
