package auth

// ScopeNotificationsAdmin allows sending to arbitrary tokens and users.
const ScopeNotificationsAdmin = "notifications:admin"
