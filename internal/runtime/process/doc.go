// Package process provides a spawner that launches the backend as a local
// detached process.
//
// On Unix the child is placed in its own process group so terminal job control
// in the host does not reach it, and Kill delivers SIGKILL to the child and
// then to its group. On Windows the child is created with CREATE_NO_WINDOW so
// no console window flashes up, and Kill terminates only the top-level process;
// grandchildren started by the backend must be cleaned up by the backend
// itself or by job objects, which this package does not use.
package process
