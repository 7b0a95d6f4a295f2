// Package device tracks client installations, the users signed in on them and
// a coarse trust score.
//
// A device may be shared by several accounts (a family tablet); each
// (device, user) link is activated on login and deactivated on logout without
// losing history. Blocking or revoking a device is a device-wide kill switch
// that also revokes every refresh token bound to it.
package device
