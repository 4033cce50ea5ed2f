// internal/analysis/static/codecontext/detectors_test.go
package codecontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasReentrancyGuard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"modifier", "function withdraw() external nonReentrant {", true},
		{"base contract", "contract Vault is ReentrancyGuardUpgradeable {", true},
		{"hand rolled mutex", "require(!locked); locked = true;", true},
		{"unguarded", "function withdraw() external { msg.sender.call{value: x}(\"\"); }", false},
		{"comparison is not a lock", "if (locked == true) revert();", false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, HasReentrancyGuard(tc.text))
		})
	}
}

func TestFollowsChecksEffectsInteractions(t *testing.T) {
	t.Parallel()
	safe := `
        uint256 bal = balances[msg.sender];
        balances[msg.sender] = 0;
        (bool ok, ) = msg.sender.call{value: bal}("");
        require(ok);`
	unsafe := `
        (bool ok, ) = msg.sender.call{value: balances[msg.sender]}("");
        require(ok);
        balances[msg.sender] = 0;`
	noCall := `balances[msg.sender] = 0;`

	assert.True(t, FollowsChecksEffectsInteractions(safe))
	assert.False(t, FollowsChecksEffectsInteractions(unsafe))
	assert.False(t, FollowsChecksEffectsInteractions(noCall))
}

func TestHasAccessControl(t *testing.T) {
	t.Parallel()
	assert.True(t, HasAccessControl("function kill() public onlyOwner {"))
	assert.True(t, HasAccessControl("require(msg.sender == owner, \"not owner\");"))
	assert.True(t, HasAccessControl("require(owner == msg.sender);"))
	assert.True(t, HasAccessControl("if (msg.sender != admin) revert Unauthorized();"))
	assert.True(t, HasAccessControl("require(hasRole(MINTER_ROLE, msg.sender));"))
	assert.True(t, HasAccessControl("function pause() external onlyRole(PAUSER_ROLE) {"))
	assert.False(t, HasAccessControl("function kill() public { selfdestruct(payable(msg.sender)); }"))
}

func TestMinimumCompilerVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text         string
		major, minor int
		ok           bool
	}{
		{"pragma solidity ^0.8.0;", 0, 8, true},
		{"pragma solidity 0.8.19;", 0, 8, true},
		{"pragma solidity >=0.7.0 <0.9.0;", 0, 7, true},
		{"pragma solidity ^0.4.24;", 0, 4, true},
		{"// no pragma here", 0, 0, false},
	}
	for _, tc := range tests {
		major, minor, ok := MinimumCompilerVersion(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.major, major, tc.text)
		assert.Equal(t, tc.minor, minor, tc.text)
	}
}

func TestHasCheckedArithmetic(t *testing.T) {
	t.Parallel()
	assert.True(t, HasCheckedArithmetic("pragma solidity ^0.8.4;", "total += amount;"))
	assert.False(t, HasCheckedArithmetic("pragma solidity ^0.8.4;", "unchecked { total += amount; }"))
	assert.False(t, HasCheckedArithmetic("pragma solidity ^0.6.12;", "total += amount;"))
	assert.False(t, HasCheckedArithmetic("", "total += amount;"))
}

func TestUsesSafeMath(t *testing.T) {
	t.Parallel()
	assert.True(t, UsesSafeMath("using SafeMath for uint256;"))
	assert.True(t, UsesSafeMath("total = SafeMath.add(total, amount);"))
	assert.True(t, UsesSafeMath("using SafeCast for int256;"))
	assert.False(t, UsesSafeMath("total = total + amount;"))
}

func TestHasCheckedCall(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"inline require", `require(payable(to).send(amount));`, true},
		{"captured and required", `(bool success, ) = to.call{value: amount}(""); require(success, "failed");`, true},
		{"captured and branched", `(bool ok, bytes memory data) = target.delegatecall(payload); if (!ok) revert();`, true},
		{"captured bool from send", `bool sent = to.send(amount); require(sent);`, true},
		{"ignored", `to.call{value: amount}("");`, false},
		{"captured but unused", `(bool success, ) = to.call{value: amount}("");`, false},
		{"different name checked", `(bool ok, ) = to.call{value: amount}(""); require(okay);`, false},
		{"compared to false", `(bool ok, ) = to.call(""); if (ok == false) revert();`, true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, HasCheckedCall(tc.text))
		})
	}
}

func TestIsTestPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want bool
	}{
		{"test/Bank.sol", true},
		{"contracts/test/Bank.sol", true},
		{"contracts/mocks/Token.sol", true},
		{"src/interfaces/IERC20.sol", true},
		{"src/IERC20.sol", true},
		{"src/Bank.t.sol", true},
		{"src/BankTest.sol", true},
		{"src/TokenMock.sol", true},
		{"src/mock_token.sol", true},
		{"src/token_test.sol", true},
		{"C:\\work\\tests\\Bank.sol", true},
		{"contracts/Bank.sol", false},
		{"contracts/Contest.sol", false},
		{"contracts/Latest.sol", false},
		{"contracts/Index.sol", false},
		{"", false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTestPath(tc.path))
		})
	}
}
