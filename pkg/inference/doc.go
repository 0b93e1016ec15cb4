// Package inference provides the execution engine for supervised-learning
// pipelines expressed as trees of named inference nodes.
//
// A pipeline is walked identically whether the caller wants a prediction or
// wants to train parameters: learning is layered on top through callbacks,
// so the traversal itself never branches on "training" versus "inference".
//
// # Node Kinds
//
// Every node reports a fixed Kind and implements the matching contract:
//
//	KindAtomic          Atomic.Compute                       leaf computation
//	KindDecorator       Decorator.Prepare / Finalize          wraps exactly one child
//	KindSequential      Sequential.InitialStep / NextStep     ordered chain of steps
//	KindParallel        Parallel.NumSubInferences / ...       fan-out, merged by the node
//	KindSharedParallel  SharedParallel.SharedInference        one child applied per element
//
// Composite nodes never run their children themselves. The Context runs
// them, which is what lets callbacks observe every depth of the tree.
//
// # Execution
//
// Context.Run pushes the node on the Stack, runs the pre-inference callbacks
// in registration order, dispatches on the node kind unless a callback
// already supplied an output or forced a non-Finished code, runs the
// post-inference callbacks in reverse order and pops the Stack:
//
//	ec := inference.NewContext(inference.WithLogger(logger))
//	res := ec.Run(ctx, pipeline, input, supervision)
//	if res.Code != inference.Finished {
//	    return res.AsError()
//	}
//
// # Return Codes
//
// Every call yields a Result carrying Finished, Canceled or Error. Error and
// Canceled abort the remaining steps of the innermost composite and travel
// upward unchanged. Nothing panics across the Context: panics raised by node
// code are recovered into Error results.
//
// # Concurrency
//
// By default Parallel children run one after another. With
// ParallelConcurrent the children of a Parallel node run on an errgroup.
// Config.MaxConcurrent bounds the goroutines of the whole tree, and a child
// that finds no free goroutine runs on the caller's. Every child receives a
// forked Stack and the outputs are merged in index order once all children
// completed.
// Callbacks must be safe for concurrent use in that mode.
package inference
