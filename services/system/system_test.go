package system_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/crufters/actio"
	"github.com/crufters/actio/internal/testutil"
	"github.com/crufters/actio/services/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func resolveSystem(t *testing.T, inj *actio.Injector) *system.Service {
	t.Helper()
	v, err := inj.Resolve(ctx, system.ClassName, actio.DefaultNamespace)
	require.NoError(t, err)
	return v.(*system.Service)
}

func TestAPIRead(t *testing.T) {
	inj := testutil.NewRegistryBuilder(t).
		With(system.Descriptor, testutil.GreeterService()).
		WithOptions(actio.WithHandlers(testutil.GreeterLeaves("hi")...)).
		Injector()

	rsp, err := resolveSystem(t, inj).APIRead(ctx, system.APIReadRequest{})
	require.NoError(t, err)
	require.Len(t, rsp.Services, 2)

	greeter := rsp.Services[0]
	assert.Equal(t, testutil.GreeterClass, greeter.Name)
	assert.Equal(t, "greeter", greeter.MetaName)
	assert.Equal(t, []string{"Prefix", "Namespace"}, greeter.Dependencies)

	names := make([]string, 0, len(greeter.Endpoints))
	for _, e := range greeter.Endpoints {
		names = append(names, e.Name)
		if e.Name == "add" {
			assert.Equal(t, 2, e.Arity)
		}
		if e.Name == "echo" {
			assert.True(t, e.Raw)
		}
	}
	assert.NotContains(t, names, "secret")
	assert.Contains(t, names, "hello")

	sys := rsp.Services[1]
	assert.Equal(t, system.ClassName, sys.Name)
	assert.Equal(t, actio.DefaultNamespace, sys.FixedNamespace)
}

func TestInstancesRead(t *testing.T) {
	inj := testutil.NewRegistryBuilder(t).
		With(system.Descriptor, testutil.GreeterService()).
		WithOptions(actio.WithHandlers(testutil.GreeterLeaves("hi")...)).
		Injector()

	_, err := inj.Resolve(ctx, testutil.GreeterClass, "tenant-a")
	require.NoError(t, err)

	rsp, err := resolveSystem(t, inj).InstancesRead(ctx)
	require.NoError(t, err)

	found := map[string]string{}
	for _, i := range rsp.Instances {
		found[i.Class] = i.Namespace
		assert.Equal(t, actio.Ready, i.State)
	}
	assert.Equal(t, "tenant-a", found[testutil.GreeterClass])
	assert.Equal(t, actio.DefaultNamespace, found[system.ClassName])
}

func TestNodesRead(t *testing.T) {
	back, _ := testutil.NewRegistryBuilder(t).
		With(system.Descriptor, testutil.GreeterService()).
		WithOptions(
			actio.WithNodeID("back"),
			actio.WithHandlers(testutil.GreeterLeaves("hi")...),
		).
		Server()

	front, frontInj := testutil.NewRegistryBuilder(t).
		With(system.Descriptor, testutil.GreeterService()).
		WithOptions(
			actio.WithNodeID("front"),
			actio.WithSelfAddress("http://front.test"),
			actio.WithAddresses(map[string]string{testutil.GreeterClass: back.URL}),
		).
		Server()

	t.Run("local view", func(t *testing.T) {
		rsp, err := resolveSystem(t, frontInj).NodesRead(ctx, system.NodesReadRequest{})
		require.NoError(t, err)
		require.Len(t, rsp.Nodes, 1)

		self := rsp.Nodes[0]
		assert.Equal(t, "front", self.ID)
		assert.Equal(t, "http://front.test", self.Address)
		assert.Equal(t, []system.ServiceNode{
			{Name: testutil.GreeterClass, Address: back.URL},
			{Name: system.ClassName},
		}, self.Services)
	})

	t.Run("propagated", func(t *testing.T) {
		rsp, err := resolveSystem(t, frontInj).NodesRead(ctx, system.NodesReadRequest{Propagate: true})
		require.NoError(t, err)
		require.Len(t, rsp.Nodes, 2)

		assert.Equal(t, "front", rsp.Nodes[0].ID)
		assert.Equal(t, "back", rsp.Nodes[1].ID)
		assert.Equal(t, back.URL, rsp.Nodes[1].Address)
		assert.Len(t, rsp.Nodes[1].Services, 2)
	})

	t.Run("over http", func(t *testing.T) {
		status, body := testutil.Post(t, front.URL, "system", "nodesRead", "", `{"propagate":true}`)
		require.Equal(t, http.StatusOK, status, string(body))

		var rsp system.NodesReadResponse
		require.NoError(t, json.Unmarshal(body, &rsp))
		assert.Len(t, rsp.Nodes, 2)
	})

	t.Run("unreachable peer", func(t *testing.T) {
		inj := testutil.NewRegistryBuilder(t).
			With(system.Descriptor, testutil.GreeterService()).
			WithOptions(actio.WithAddresses(map[string]string{testutil.GreeterClass: "http://127.0.0.1:1"})).
			Injector()

		_, err := resolveSystem(t, inj).NodesRead(ctx, system.NodesReadRequest{Propagate: true})
		require.Error(t, err)
		assert.True(t, actio.IsTransport(err))
	})
}
