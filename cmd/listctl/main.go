// Command listctl manages shopping lists stored in an event log.
//
//	LISTCTL_STORE=sqlite listctl create list-1 "Groceries"
//	listctl rename list-1 "Weekend"
//	listctl show list-1
//	listctl log --from 1
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
