// Command kbart-linkcheck checks the links of KBART collections.
package main

import "github.com/JakeFAU/kbart-linkcheck/cmd"

func main() {
	cmd.Execute()
}
