package prompts

// EmptyResponseFallback is returned when the model's final reply has no
// text.
const EmptyResponseFallback = "I apologize, but I couldn't generate a response."

// BoundExceededFallback is returned when the model is still requesting
// tools after the last permitted round-trip.
const BoundExceededFallback = "I apologize, but I wasn't able to complete your request. Please try again."

// ToolErrorPrefix is prepended to a failed tool's error text before it is
// handed back to the model.
const ToolErrorPrefix = "Error: "
