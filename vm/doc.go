// Package vm implements the bytecode virtual machine for a numerical array
// language.
//
// This package contains:
//   - The tagged Value hot-path representation and the Value contract the
//     VM consumes from the host value system
//   - Bytecode decoding, the frame/stack manager, and the dispatch core
//   - Instruction handlers for arithmetic, indexing, assignment, control
//     flow, matrix/cell construction, and calls
//   - Polymorphic inline caching with genuine opcode self-rewriting
//   - The unwind/error system and the output-ignore protocol
//   - An opt-in sampling profiler
package vm
