// Package process supervises the Tuya codec daemon as a child process.
//
// The daemon speaks the encrypted Tuya LAN protocol and answers relay
// requests over MQTT. When its command is configured the service launches
// it, restarts it with exponential backoff when it exits, and stops the
// whole process group on shutdown. When no command is configured the daemon
// is expected to run on its own and this package is not used.
//
// Example usage:
//
//	sup := process.NewSupervisor(process.Config{
//	    Name:    "tuyad",
//	    Command: "/usr/local/bin/tuyad",
//	    Args:    []string{"--mqtt", "tcp://localhost:1883"},
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
