// Package alerts implements the rule engine and webhook delivery for threat
// alerting. Rules are evaluated against every refreshed feed snapshot, one
// alert per rule and record; webhooks are delivered to Teams, Slack or
// generic HTTP targets. Rules and webhooks can be swapped at runtime with
// SetConfig.
package alerts
