// Package system is the "system" service: introspection of the registered
// API, of the nodes in the mesh and of the instances built on this node.
package system

import (
	"context"
	"sort"

	"github.com/crufters/actio"
	"golang.org/x/sync/errgroup"
)

// ClassName is the registered class name.
const ClassName = "SystemService"

// Descriptor registers SystemService. It takes the injector itself, so it
// sees every service known to this node.
var Descriptor = actio.Define(ClassName,
	func(args actio.Args) (any, error) {
		inj, err := actio.Arg[*actio.Injector](args, 0)
		if err != nil {
			return nil, err
		}
		return New(inj), nil
	},
	actio.Params(actio.Self()),
	actio.Name("system"),
	actio.FixedNamespace(actio.DefaultNamespace),
	actio.Endpoints(
		actio.Handler("apiRead", (*Service).APIRead),
		actio.Handler("nodesRead", (*Service).NodesRead),
		actio.Handler0("instancesRead", (*Service).InstancesRead),
	),
)

// APIReadRequest takes no parameters.
type APIReadRequest struct{}

// APIReadResponse lists every registered service.
type APIReadResponse struct {
	Services []ServiceInfo `json:"services"`
}

// ServiceInfo describes one service and its exposed endpoints.
type ServiceInfo struct {
	Name           string         `json:"name"`
	MetaName       string         `json:"metaName,omitempty"`
	FixedNamespace string         `json:"fixedNamespace,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Endpoints      []EndpointInfo `json:"endpoints"`
}

// EndpointInfo describes one endpoint. Arity counts its request parameters.
type EndpointInfo struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
	Raw   bool   `json:"raw,omitempty"`
}

// NodesReadRequest asks for the node topology. With Propagate set, every
// addressed node is asked for its own view as well.
type NodesReadRequest struct {
	Propagate bool `json:"propagate,omitempty"`
}

// NodesReadResponse is the list of known nodes.
type NodesReadResponse struct {
	Nodes []Node `json:"nodes"`
}

// Node is one process and the services it hosts.
type Node struct {
	ID       string        `json:"id"`
	Address  string        `json:"address,omitempty"`
	Services []ServiceNode `json:"services"`
}

// ServiceNode is a service on a node. Address is set if it is remote.
type ServiceNode struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// InstancesReadResponse is a snapshot of the injector's instance records.
type InstancesReadResponse struct {
	Instances []actio.InstanceInfo `json:"instances"`
}

// Service implements the system endpoints.
type Service struct {
	inj *actio.Injector
}

// New creates a Service reporting on inj.
func New(inj *actio.Injector) *Service {
	return &Service{inj: inj}
}

// APIRead describes every service and exposed endpoint.
func (s *Service) APIRead(ctx context.Context, req APIReadRequest) (*APIReadResponse, error) {
	rsp := &APIReadResponse{Services: []ServiceInfo{}}
	for _, name := range s.inj.AvailableClassNames() {
		desc, _ := s.inj.ClassByName(name)
		info := ServiceInfo{
			Name:           desc.Name,
			MetaName:       desc.MetaName,
			FixedNamespace: desc.FixedNamespace,
			Endpoints:      []EndpointInfo{},
		}
		for _, p := range desc.Params {
			info.Dependencies = append(info.Dependencies, p.String())
		}
		for _, m := range desc.MethodNames() {
			method, _ := desc.Method(m)
			if method.Unexposed {
				continue
			}
			info.Endpoints = append(info.Endpoints, EndpointInfo{Name: method.Name, Arity: method.Arity, Raw: method.Raw})
		}
		rsp.Services = append(rsp.Services, info)
	}
	return rsp, nil
}

// NodesRead reports this node and which of its services are served elsewhere.
// With Propagate set, every node this one addresses is asked for its own
// report, one level deep.
func (s *Service) NodesRead(ctx context.Context, req NodesReadRequest) (*NodesReadResponse, error) {
	self := Node{
		ID:       s.inj.NodeID(),
		Address:  s.inj.SelfAddress(),
		Services: []ServiceNode{},
	}

	seen := make(map[string]bool)
	var addresses []string
	for _, name := range s.inj.AvailableClassNames() {
		address, ok := s.inj.Addresses().Lookup(name)
		if !ok {
			self.Services = append(self.Services, ServiceNode{Name: name})
			continue
		}
		self.Services = append(self.Services, ServiceNode{Name: name, Address: address})
		if !seen[address] {
			seen[address] = true
			addresses = append(addresses, address)
		}
	}
	sort.Strings(addresses)

	rsp := &NodesReadResponse{Nodes: []Node{self}}
	if !req.Propagate || len(addresses) == 0 {
		return rsp, nil
	}

	remote := make([][]Node, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	for i, address := range addresses {
		g.Go(func() error {
			proxy := actio.NewProxy(s.inj.Caller(), address, ClassName, "")
			var nodes NodesReadResponse
			if err := proxy.CallInto(gctx, "nodesRead", &nodes, NodesReadRequest{}); err != nil {
				return err
			}
			for j := range nodes.Nodes {
				nodes.Nodes[j].Address = address
			}
			remote[i] = nodes.Nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, nodes := range remote {
		rsp.Nodes = append(rsp.Nodes, nodes...)
	}
	return rsp, nil
}

// InstancesRead lists the instance records on this node.
func (s *Service) InstancesRead(ctx context.Context) (*InstancesReadResponse, error) {
	return &InstancesReadResponse{Instances: s.inj.Instances()}, nil
}
