// Package vm implements a concurrent, BEAM-style process virtual machine: a
// stack-based bytecode interpreter that runs many isolated lightweight
// processes, each with its own mailbox, scheduled cooperatively under a
// reduction budget, with supervision trees and link/monitor fault
// propagation.
package vm
