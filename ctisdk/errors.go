/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package ctisdk

import (
	"errors"
	"fmt"
	"strings"
)

// Socket error identifiers raised by the transports. They share the
// namespace of server-sent error ids so both feed the same catalog.
const (
	ErrIDHostNotFound      = "socket_error_hostnotfound"
	ErrIDTimeout           = "socket_error_timeout"
	ErrIDConnectionRefused = "socket_error_connectionrefused"
	ErrIDNetwork           = "socket_error_network"
	ErrIDSSLHandshake      = "socket_error_sslhandshake"
	ErrIDUnknownSocket     = "socket_error_unknown"
	ErrIDRemoteClosed      = "socket_error_remotehostclosed"
	ErrIDNoKeepalive       = "no_keepalive_from_server"
	ErrIDDisconnected      = "disconnected"
	ErrIDForceDisconnected = "forcedisconnected"
)

// ProtocolError is an error identified by a server error id (or an internal
// socket/liveness id from the same namespace). Message carries the
// human-readable description from the fixed catalog; LoginPhase reports
// whether the id belongs to the login handshake taxonomy, in which case the
// session is aborted rather than retried.
type ProtocolError struct {
	ID         string
	Message    string
	LoginPhase bool
	ServerAddr string
	ServerPort string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cti: %s: %s", e.ID, e.Message)
}

// NewProtocolError builds a ProtocolError for an error id, resolving the
// catalog message for the given server address and port.
func NewProtocolError(errorid, serverAddr, serverPort string) *ProtocolError {
	msg, login := Describe(errorid, serverAddr, serverPort)
	return &ProtocolError{
		ID:         errorid,
		Message:    msg,
		LoginPhase: login,
		ServerAddr: serverAddr,
		ServerPort: serverPort,
	}
}

// IsLoginError reports whether err is a ProtocolError from the login phase.
func IsLoginError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.LoginPhase
}

// Describe maps a server or socket error id to a human-readable message and
// reports whether it counts as a login error. Unknown ids fall back to a
// generic message, never an error: the catalog is advisory.
func Describe(errorid, serverAddr, serverPort string) (string, bool) {
	id := strings.ToLower(errorid)

	switch {
	// errors sent by the server during the login phase
	case id == "user_not_found":
		return fmt.Sprintf("Your registration name is not known by the CTI server on %s:%s.",
			serverAddr, serverPort), true
	case id == "login_password":
		return "You entered a wrong login / password.", true
	case strings.HasPrefix(errorid, "capaid_undefined"):
		return "You have no profile defined.", true

	// liveness (internal)
	case id == ErrIDNoKeepalive:
		return fmt.Sprintf("The server %s:%s did not reply to the last keepalive packet.",
			serverAddr, serverPort), false

	// socket errors while attempting to connect
	case id == ErrIDHostNotFound:
		return fmt.Sprintf("The address %s is probably an unresolved host name.", serverAddr), true
	case id == ErrIDTimeout:
		return fmt.Sprintf("Socket timeout: you probably attempted to reach, via a gateway, "+
			"an IP address %s that does not exist.", serverAddr), true
	case id == ErrIDConnectionRefused:
		return fmt.Sprintf("There seems to be a machine running on %s, and either no CTI "+
			"server is running, or your port %s is wrong.", serverAddr, serverPort), true
	case id == ErrIDNetwork:
		return fmt.Sprintf("An error occurred on the network while attempting to join %s.",
			serverAddr), true
	case id == ErrIDSSLHandshake:
		return fmt.Sprintf("It seems that the server %s does not accept encryption on its "+
			"port %s. Please change either your port or your encryption setting.",
			serverAddr, serverPort), true
	case id == ErrIDUnknownSocket:
		return fmt.Sprintf("An unknown socket error has occurred while attempting to join %s:%s.",
			serverAddr, serverPort), true
	case strings.HasPrefix(errorid, "socket_error_unmanagedyet:"):
		number := strings.TrimPrefix(errorid, "socket_error_unmanagedyet:")
		return fmt.Sprintf("An unmanaged (number %s) socket error has occurred while attempting "+
			"to join %s:%s.", number, serverAddr, serverPort), true

	// socket errors once connected
	case id == ErrIDRemoteClosed:
		return fmt.Sprintf("The CTI server on %s:%s has just closed the connection.",
			serverAddr, serverPort), false

	case id == "server_stopped":
		return fmt.Sprintf("The CTI server on %s:%s has just been stopped.",
			serverAddr, serverPort), false
	case id == "server_reloaded":
		return fmt.Sprintf("The CTI server on %s:%s has just been reloaded.",
			serverAddr, serverPort), false
	case strings.HasPrefix(errorid, "already_connected:"):
		parts := strings.Split(errorid, ":")
		if len(parts) >= 3 {
			return fmt.Sprintf("You are already connected to %s:%s.", parts[1], parts[2]), false
		}
		return "You are already connected.", false
	case id == "no_capability":
		return "No capability allowed.", false
	case strings.HasPrefix(errorid, "toomuchusers:"):
		users := strings.Split(strings.TrimPrefix(errorid, "toomuchusers:"), ";")
		return fmt.Sprintf("Max number (%s) of CTI clients already reached.", users[0]), false
	case strings.HasPrefix(errorid, "missing:"):
		return "Missing argument(s).", false
	case strings.HasPrefix(errorid, "xivoversion_client:"):
		versions := strings.Split(strings.TrimPrefix(errorid, "xivoversion_client:"), ";")
		if len(versions) >= 2 {
			return fmt.Sprintf("Your client's protocol version (%s) is not the same as the "+
				"server's (%s).", ProtocolVersion, versions[1]), true
		}
		return "Your client's protocol version is not the same as the server's.", true
	case strings.HasPrefix(errorid, "version_server:"):
		versions := strings.Split(strings.TrimPrefix(errorid, "version_server:"), ";")
		if len(versions) >= 2 {
			return fmt.Sprintf("Your server version (%s) is too old for this client. "+
				"Please upgrade it to %s at least.", versions[0], versions[1]), true
		}
		return fmt.Sprintf("Your server version (%s) is too old for this client. "+
			"Please upgrade it.", versions[0]), true

	case errorid == ErrIDDisconnected:
		return "You were disconnected by the server.", false
	case errorid == ErrIDForceDisconnected:
		return "You were forced to disconnect by the server.", false

	// feature command failures, surfaced but non-fatal
	case errorid == "agent_login_invalid_exten":
		return "Could not log agent: invalid extension.", false
	case errorid == "agent_login_exten_in_use":
		return "Could not log agent: extension already in use.", false
	case strings.HasPrefix(errorid, "unreachable_extension:"):
		exten := strings.TrimPrefix(errorid, "unreachable_extension:")
		return fmt.Sprintf("Unreachable number: %s", exten), false
	case errorid == "xivo_auth_error":
		return "The authentication server could not fulfill your request.", false
	case strings.HasPrefix(errorid, "call_unauthorized"):
		return "You are not authorized to make calls.", false
	case strings.HasPrefix(errorid, "hangup_unauthorized"):
		return "You are not authorized to hangup calls.", false
	case strings.HasPrefix(errorid, "transfer_unauthorized"):
		return "You are not authorized to transfer calls.", false
	case strings.HasPrefix(errorid, "service_unavailable"):
		return "Service unavailable.", false
	}

	return "Server has sent an error.", false
}
