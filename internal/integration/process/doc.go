// Package process runs debug adapters as child processes.
//
// A Supervisor starts each adapter with its stdin and stdout piped for the
// protocol and its stderr drained into the debug log. Adapters run in their
// own process group so that killing one also reaps any debuggee it spawned.
//
//	sup := process.NewSupervisor(process.WithLogger(logger))
//	defer sup.Shutdown(2 * time.Second)
//
//	proc, err := sup.Start("delve", exec.Command("dlv", "dap"))
//	if err != nil {
//	    return err
//	}
//	<-proc.Done()
package process
