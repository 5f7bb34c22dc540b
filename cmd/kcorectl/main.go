// Command kcorectl is a thin operator surface over the kcore
// substrate: verifying a boot payload, running a short scheduler
// benchmark, and dumping the VMContext layout for a set of module
// counts. It is not a build tool or a QEMU runner (that harness is out
// of scope, per spec.md's Non-goals) — just direct access to the
// library packages for inspection and smoke-testing, in the same
// "parse os.Args by hand, log.Fatal on misuse" idiom
// biscuit/src/kernel/chentry.go and biscuit/src/mkfs use.
package main

import (
	"fmt"
	"log"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: kcorectl <command> [args]

commands:
  boot-verify <pubkey-hex-file> <payload-file>   verify+decompress a boot payload
  sched-bench <num-tasks> <num-cores>            run a short work-stealing benchmark
  vmcontext <imported-funcs> <defined-memories>  print a VMContext layout
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "boot-verify":
		err = runBootVerify(os.Args[2:])
	case "sched-bench":
		err = runSchedBench(os.Args[2:])
	case "vmcontext":
		err = runVMContext(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}
