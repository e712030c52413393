// Package ticsai implements a Telegram bot that answers questions about
// Qubetics by relaying user queries to Google's Gemini API.
//
// The bot listens for messages via long polling, and decides per message
// whether it was addressed (directly, by @mention, by alias, or by replying
// to one of its own messages). Admitted queries are gated by a per-user
// rate limit before the completion call is made.
//
// Key components of the package include:
//
//   - TICSAI: The main struct that encapsulates the bot's core functionality.
//   - AdmissionGate: Decides whether an inbound message is directed at the
//     bot, and extracts the effective query text.
//   - RateLimiter: Bounds each user to a fixed number of requests per window.
//   - Gemini: Manages completion calls against the Gemini API.
//   - Telegram: Handles message delivery, including the reaction fallback
//     used when Telegram throttles outbound sends.
//
// All state is held in memory; nothing survives a restart.
package ticsai
