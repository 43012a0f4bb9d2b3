package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "facsyncd"}

	root.AddCommand(serveCMD(), syncCMD(), migrateCMD())
	_ = root.Execute()
}
