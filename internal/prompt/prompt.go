// ABOUTME: Built-in prompt text used when no override is configured
// ABOUTME: Holds the global default system prompt and the summary instruction

package prompt

// DefaultSystem is the system prompt used for conversations without their
// own override and without a configured default.
const DefaultSystem = "You are an AI assistant. You answer the user's questions and provide helpful information."

// Summary instructs the model to compress a conversation's user messages
// into a short topic line for the conversation list.
const Summary = `you are a bot that summarizes user messages in less than 50 characters.
just write a summary of the conversation. dont write this is a summary.
dont answer the question, just summarize the conversation.
the user wants to know what the conversation is about, not the answers.

Examples:
input: {'role': 'user', 'content': "['how to inverse a string in python?']"}
output: reverse a string in python

input: {'role': 'user', 'content': "['hi', 'how are you?', 'how do i install pandas?']"}
output: greeting, install pandas

input: {'role': 'user', 'content': "['hi']"}
output: greeting

input: {'role': 'user', 'content': "['hi', 'how are you?']"}
output: greeting

input: {'role': 'user', 'content': "['write a python snake game', 'thank you']"}
output: python snake game`
