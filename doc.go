// Package pegopt implements a peephole-and-dataflow bytecode optimizer
// for a parsing-expression-grammar virtual machine. Each grammar rule
// compiles to a linear stack-machine instruction stream; OptimizeBlock
// consumes that stream and returns an equivalent, usually shorter one.
//
// The optimizer is built around an abstract interpreter (State) that
// simulates the VM's stack symbolically while rewriting the code it
// interprets, iterating to a fixed point. Structured control flow
// (conditionals, loops) is represented as a tree (format.go) rather
// than as flat jumps, so rewrites never have to fix up jump offsets.
//
// Opcode assignment, final flattening into a runtime-owned packed
// array outside this package's own flat encoding, source maps, and the
// PEG runtime interpreter itself are not this package's concern; it
// only ever sees a flat instruction stream in and produces one out.
package pegopt
